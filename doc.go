// Package gonitrate is a Go client for the Nitrate test case management
// system.
//
// Server records are presented as typed objects that load on first use and
// buffer changes until they are flushed. A session shares one instance per
// id.
//
// The module is organized into these packages:
//
//   - [github.com/CaliLuke/go-nitrate/nitrate] - entity core: lazy fields, registry, containers, cache levels
//   - [github.com/CaliLuke/go-nitrate/tcms] - plans, runs, cases, case runs, products, users, tags and bugs
//   - [github.com/CaliLuke/go-nitrate/remote] - call interface, XML-RPC transport, tracing and cassettes
//   - [github.com/CaliLuke/go-nitrate/localstore] - SQLite backed stand in server for offline use and tests
//   - [github.com/CaliLuke/go-nitrate/config] - ~/.nitrate parsing and environment settings
//
// The nitrate, tcms, localstore and config packages test without a
// running server. The command in cmd/nitrate wires them together.
package gonitrate
