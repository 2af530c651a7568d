package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"opensase/access-plane/internal/accessctx"
)

// Postgres is the durable Provider backed by the access_history, known_devices
// and known_countries tables.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a Provider that persists baselines in the given database.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// History implements Provider. It returns an empty baseline, not an error, for
// users never seen before.
func (p *Postgres) History(ctx context.Context, userID string) (*accessctx.UserHistory, error) {
	out := &accessctx.UserHistory{
		KnownDevices:   map[string]struct{}{},
		KnownCountries: map[string]struct{}{},
	}

	var (
		country, city sql.NullString
		lat, lon      sql.NullFloat64
		lastAccess    sql.NullTime
		startHour     int
		endHour       int
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT last_country, last_city, last_latitude, last_longitude, last_access,
		       typical_start_hour, typical_end_hour
		FROM access_history WHERE user_id = $1`, userID).
		Scan(&country, &city, &lat, &lon, &lastAccess, &startHour, &endHour)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return out, nil
	case err != nil:
		return nil, err
	}

	if lastAccess.Valid {
		out.LastAccess = lastAccess.Time
	}
	if country.Valid && lat.Valid && lon.Valid {
		out.LastLocation = &accessctx.GeoLocation{
			Country:   country.String,
			City:      city.String,
			Latitude:  lat.Float64,
			Longitude: lon.Float64,
		}
	}
	out.TypicalHours = &accessctx.HourWindow{Start: startHour, End: endHour}

	rows, err := p.db.QueryContext(ctx, `SELECT device_id FROM known_devices WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out.KnownDevices[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := p.db.QueryContext(ctx, `SELECT country FROM known_countries WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var c string
		if err := crows.Scan(&c); err != nil {
			return nil, err
		}
		out.KnownCountries[c] = struct{}{}
	}
	return out, crows.Err()
}

// RecordAccess implements Provider: folds a granted access into the baseline.
func (p *Postgres) RecordAccess(ctx context.Context, userID, deviceID string, geo *accessctx.GeoLocation, at time.Time) error {
	var (
		country, city sql.NullString
		lat, lon      sql.NullFloat64
	)
	if geo != nil {
		country = sql.NullString{String: geo.Country, Valid: geo.Country != ""}
		city = sql.NullString{String: geo.City, Valid: geo.City != ""}
		lat = sql.NullFloat64{Float64: geo.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: geo.Longitude, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO access_history (user_id, last_country, last_city, last_latitude, last_longitude, last_access, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id) DO UPDATE SET
			last_country = COALESCE(EXCLUDED.last_country, access_history.last_country),
			last_city = COALESCE(EXCLUDED.last_city, access_history.last_city),
			last_latitude = COALESCE(EXCLUDED.last_latitude, access_history.last_latitude),
			last_longitude = COALESCE(EXCLUDED.last_longitude, access_history.last_longitude),
			last_access = EXCLUDED.last_access,
			updated_at = now()`,
		userID, country, city, lat, lon, at.UTC())
	if err != nil {
		return err
	}

	if deviceID != "" {
		if _, err := p.db.ExecContext(ctx, `
			INSERT INTO known_devices (user_id, device_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, userID, deviceID); err != nil {
			return err
		}
	}
	if geo != nil && geo.Country != "" {
		if _, err := p.db.ExecContext(ctx, `
			INSERT INTO known_countries (user_id, country) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, userID, geo.Country); err != nil {
			return err
		}
	}
	return nil
}
