package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByDUID retrieves a device by its duid.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByDUID(ctx context.Context, duid string) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Upsert inserts a device or replaces its configured fields. The stored
	// nonce and last-seen time are kept when the row already exists.
	Upsert(ctx context.Context, device *Device) error

	// Delete removes a device by duid.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, duid string) error

	// UpdateNonce records the nonce a device returned in a hello or ping reply.
	UpdateNonce(ctx context.Context, duid string, nonce uint32) error

	// UpdateLastSeen records when a frame was last received from a device.
	UpdateLastSeen(ctx context.Context, duid string, seen time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
	SELECT duid, name, model, local_key, protocol_version, local_ip, transport,
		nonce, last_seen, created_at, updated_at
	FROM devices`

// GetByDUID retrieves a device by its duid.
func (r *SQLiteRepository) GetByDUID(ctx context.Context, duid string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE duid = ?`, duid)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by duid: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY name, duid`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Upsert inserts or updates a device.
func (r *SQLiteRepository) Upsert(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			duid, name, model, local_key, protocol_version, local_ip, transport,
			nonce, last_seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(duid) DO UPDATE SET
			name = excluded.name,
			model = excluded.model,
			local_key = excluded.local_key,
			protocol_version = excluded.protocol_version,
			local_ip = excluded.local_ip,
			transport = excluded.transport,
			nonce = COALESCE(excluded.nonce, devices.nonce),
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		device.DUID,
		device.Name,
		device.Model,
		device.LocalKey,
		device.ProtocolVersion,
		device.LocalIP,
		string(device.Transport),
		nullableNonce(device.Nonce),
		nullableTime(device.LastSeen),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// Delete removes a device by duid.
func (r *SQLiteRepository) Delete(ctx context.Context, duid string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE duid = ?", duid)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result)
}

// UpdateNonce stores the latest handshake nonce.
func (r *SQLiteRepository) UpdateNonce(ctx context.Context, duid string, nonce uint32) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET nonce = ?, updated_at = ? WHERE duid = ?",
		int64(nonce),
		time.Now().UTC().Format(time.RFC3339),
		duid,
	)
	if err != nil {
		return fmt.Errorf("updating device nonce: %w", err)
	}
	return requireRow(result)
}

// UpdateLastSeen stores the last time a frame arrived from a device.
func (r *SQLiteRepository) UpdateLastSeen(ctx context.Context, duid string, seen time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET last_seen = ? WHERE duid = ?",
		seen.UTC().Format(time.RFC3339),
		duid,
	)
	if err != nil {
		return fmt.Errorf("updating device last seen: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var transport string
	var nonce sql.NullInt64
	var lastSeen sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.DUID,
		&d.Name,
		&d.Model,
		&d.LocalKey,
		&d.ProtocolVersion,
		&d.LocalIP,
		&transport,
		&nonce,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Transport = Transport(transport)
	if nonce.Valid {
		n := uint32(nonce.Int64) // #nosec G115 -- written from a uint32
		d.Nonce = &n
	}
	if lastSeen.Valid {
		if t, err := time.Parse(time.RFC3339, lastSeen.String); err == nil {
			d.LastSeen = &t
		}
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &d, nil
}

func nullableNonce(n *uint32) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
