package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session records one acquisition run: the sensor geometry it was configured
// with and when it started and stopped.
type Session struct {
	SessionID   string  `json:"session_id"`
	Width       uint32  `json:"width"`
	Height      uint32  `json:"height"`
	PixelFormat string  `json:"pixel_format"`
	BayerFormat string  `json:"bayer_format"`
	FrameRate   float64 `json:"frame_rate"`
	StartedAt   int64   `json:"started_at"`
	StoppedAt   *int64  `json:"stopped_at,omitempty"`
}

// FrameRecord is one delivered frame's metadata, keyed by session.
type FrameRecord struct {
	SessionID       string `json:"session_id"`
	FrameNumber     uint32 `json:"frame_number"`
	BytesReceived   uint32 `json:"bytes_received"`
	PacketsReceived uint32 `json:"packets_received"`
	PacketsDropped  uint32 `json:"packets_dropped"`
	CRC             uint32 `json:"crc"`
	PSN             uint32 `json:"psn"`
	ReceivedAt      int64  `json:"received_at"`
	DeviceTimestamp int64  `json:"device_timestamp"`
}

// SessionStore provides persistence for acquisition sessions and their frames.
type SessionStore struct {
	db *DB
}

func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// CreateSession persists a new session. If SessionID is empty, a UUID is
// generated; if StartedAt is zero, the current time is used.
func (s *SessionStore) CreateSession(session *Session) error {
	if session.SessionID == "" {
		session.SessionID = uuid.New().String()
	}
	if session.StartedAt == 0 {
		session.StartedAt = time.Now().UnixNano()
	}

	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO sessions (
				session_id, width, height, pixel_format, bayer_format,
				frame_rate, started_at, stopped_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			session.SessionID, session.Width, session.Height,
			session.PixelFormat, session.BayerFormat,
			session.FrameRate, session.StartedAt, session.StoppedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", session.SessionID, err)
	}
	return nil
}

// CloseSession stamps the session's stop time.
func (s *SessionStore) CloseSession(sessionID string, stoppedAt time.Time) error {
	err := retryOnBusy(func() error {
		result, err := s.db.Exec(`UPDATE sessions SET stopped_at = ? WHERE session_id = ?`,
			stoppedAt.UnixNano(), sessionID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("session %s not found", sessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("closing session %s: %w", sessionID, err)
	}
	return nil
}

// InsertFrame persists one frame's delivery metadata.
func (s *SessionStore) InsertFrame(frame *FrameRecord) error {
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO frames (
				session_id, frame_number, bytes_received, packets_received,
				packets_dropped, crc, psn, received_at, device_timestamp
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			frame.SessionID, frame.FrameNumber, frame.BytesReceived,
			frame.PacketsReceived, frame.PacketsDropped,
			frame.CRC, frame.PSN, frame.ReceivedAt, frame.DeviceTimestamp,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting frame %d for session %s: %w", frame.FrameNumber, frame.SessionID, err)
	}
	return nil
}

// ListSessions returns all sessions ordered by start time descending.
func (s *SessionStore) ListSessions() ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT session_id, width, height, pixel_format, bayer_format,
		       frame_rate, started_at, stopped_at
		FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		var stoppedAt sql.NullInt64
		err := rows.Scan(&sess.SessionID, &sess.Width, &sess.Height,
			&sess.PixelFormat, &sess.BayerFormat,
			&sess.FrameRate, &sess.StartedAt, &stoppedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if stoppedAt.Valid {
			v := stoppedAt.Int64
			sess.StoppedAt = &v
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// SessionFrames returns a session's frames ordered by frame number.
func (s *SessionStore) SessionFrames(sessionID string) ([]*FrameRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_id, frame_number, bytes_received, packets_received,
		       packets_dropped, crc, psn, received_at, device_timestamp
		FROM frames WHERE session_id = ? ORDER BY frame_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying frames for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var frames []*FrameRecord
	for rows.Next() {
		var f FrameRecord
		err := rows.Scan(&f.SessionID, &f.FrameNumber, &f.BytesReceived,
			&f.PacketsReceived, &f.PacketsDropped,
			&f.CRC, &f.PSN, &f.ReceivedAt, &f.DeviceTimestamp)
		if err != nil {
			return nil, fmt.Errorf("scanning frame: %w", err)
		}
		frames = append(frames, &f)
	}
	return frames, rows.Err()
}

// FrameCount returns how many frames a session recorded.
func (s *SessionStore) FrameCount(sessionID string) (int64, error) {
	var count int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM frames WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting frames for session %s: %w", sessionID, err)
	}
	return count, nil
}
