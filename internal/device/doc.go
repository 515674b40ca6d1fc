// Package device is the bridge's device credential registry.
//
// Each Roborock device is identified by its duid and carries the local key
// used to encrypt frames, the protocol version it speaks, an optional LAN
// address, and the nonce it last returned in a hello or ping reply.
//
// # Architecture
//
//	config.devices ──Seed──▶ Registry (cache) ──▶ Repository ──▶ SQLite (devices table)
//	                              │
//	                              └──▶ roborock bridge (RegisterDevice on both transports)
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	if err := registry.Seed(ctx, cfg.Devices); err != nil {
//	    return err
//	}
//	devices, err := registry.ListDevices(ctx)
//
// # Security
//
// LocalKey is excluded from JSON output and masked by Device.String.
package device
