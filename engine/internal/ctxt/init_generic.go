// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package ctxt

import (
	_ "github.com/gviegas/framegraph/driver/nulldrv"
)

func init() {
	// Backends register themselves on import; the null
	// driver is always available as a fallback.
	if err := loadDriver(""); err != nil {
		panic(err)
	}
}
