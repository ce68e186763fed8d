// Package smoothbus is an N-proxy-M relay for multi-part messages carried
// over NATS. Any number of publishers send to the inbound subject tree and
// any number of subscribers receive from the outbound tree; neither side
// knows about the other.
//
// # Modes
//
// The relay runs in one of two modes, fixed at start:
//
//   - proxy: every inbound message is forwarded unchanged.
//   - function: messages carrying facial action-unit ("au_r") and head-pose
//     ("pose") values are smoothed over a short window before they are
//     forwarded, and a command channel adjusts the action-unit multiplier
//     at runtime.
//
// # Architecture
//
//	publishers                                     subscribers
//	    │                                               ↑
//	smoothbus.in.<topic>                     smoothbus.out.<topic>
//	    │                                               │
//	┌───┴────────────────────── relay ─────────────────┴───┐
//	│  ┌──────────────┐  classify, smooth   ┌──────────┐   │
//	│  │ natsbus      ├────────────────────→│ natsbus  │   │
//	│  │ Receiver     │   facs_smooth       │ Sender   │   │
//	│  └──────────────┘         ↑           └──────────┘   │
//	│                      multiplier                      │
//	│  ┌──────────────┐         │                          │
//	│  │ natsbus      ├──→ param_router ──→ NATS KV        │
//	│  │ commands     │                    (optional)      │
//	│  └──────────────┘                                    │
//	└──────────────────────────────────────────────────────┘
//	    ↑
//	smoothbus.cmd.<command topic>
//
// The transform loop and the command loop run concurrently. The only state
// they share is the multiplier, which the command loop replaces atomically.
//
// # Packages
//
//   - bus: message model and in-memory channels
//   - bus/natsbus: NATS subject and header codec for the channels
//   - smoother: windowed smoothing strategies
//   - processor/facs_smooth: message classifier and transformer
//   - processor/param_router: multiplier command handling and persistence
//   - relay: controller wiring the channels to the mode's components
//   - config: layered JSON/YAML configuration with environment overrides
//   - natsclient: NATS connection management and KV helpers
//   - metric: Prometheus registry and HTTP endpoint
//   - component, errors, pkg/buffer, pkg/retry: shared infrastructure
//
// The smoothbus command in cmd/smoothbus runs the relay.
package smoothbus
