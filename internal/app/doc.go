// Package app composes the rewards layer: it wires storage, the evolution
// engine, the catalog reloader and the notification dispatcher, and manages
// their lifecycle.
//
//	internal/app/
//	├── application.go   # wiring and lifecycle
//	├── domain/          # pure data types
//	├── services/        # engine logic
//	├── storage/         # store interfaces, memory, postgres, redis lock
//	├── notify/          # outbound events
//	├── httpapi/         # REST handlers
//	├── metrics/         # prometheus collectors
//	└── system/          # lifecycle contract
//
// Business rules live in services/evolution; this package only wires them.
package app
