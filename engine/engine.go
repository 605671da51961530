// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package engine implements a shadow-focused frame graph.
//
// A Renderer schedules a fixed set of passes (depth
// prepass, cascaded shadow maps, shadow mask resolve,
// ray-traced shadows, lighting and temporal resolve)
// across the graphics, compute and ray tracing queues.
// Cross-queue dependencies are expressed as semaphores
// that the Renderer recomputes whenever the shadow
// producer or the debug view changes.
// Shader sources can be reloaded while rendering; a
// pipeline is only replaced once the device is idle.
package engine
