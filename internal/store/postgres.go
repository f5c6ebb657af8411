package store

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/jackc/pgx"
)

// schema creates the three tables the arbiter depends on if they don't
// already exist, mirroring db.rs's init_db. image_hash is BIGINT rather
// than the original INT, per the widened ImageHash key.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id     SERIAL PRIMARY KEY,
	username    TEXT UNIQUE NOT NULL,
	password    TEXT NOT NULL,
	salt        TEXT NOT NULL,
	banned      BOOL NOT NULL DEFAULT FALSE,
	whitelisted BOOL NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS images (
	image_hash BIGINT PRIMARY KEY,
	data       BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	sender_id  BIGINT NOT NULL,
	sender     TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	send_time  BIGINT NOT NULL,
	image_hash BIGINT REFERENCES images(image_hash) ON DELETE SET DEFAULT,
	CONSTRAINT fk_sender FOREIGN KEY(sender) REFERENCES accounts(username) ON DELETE SET DEFAULT
);
`

// Postgres is the production Store implementation, a thin wrapper
// around a single *pgx.Conn rather than a pooled driver.
type Postgres struct {
	conn *pgx.Conn
}

// Open connects to Postgres and ensures the schema exists.
func Open(host, port, user, pass, dbname string) (*Postgres, error) {
	cfg := pgx.ConnConfig{
		Host:     host,
		User:     user,
		Password: pass,
		Database: dbname,
	}
	if port != "" {
		var p uint16
		if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
			return nil, fmt.Errorf("store: invalid db_port %q: %w", port, err)
		}
		cfg.Port = p
	}

	conn, err := pgx.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: schema init: %w", err)
	}
	return &Postgres{conn: conn}, nil
}

func (p *Postgres) Close() error {
	return p.conn.Close()
}

func (p *Postgres) GetUser(ctx context.Context, username string) (Account, error) {
	var (
		a           Account
		passwordB64 string
		saltB64     string
	)
	row := p.conn.QueryRow(
		"SELECT user_id, username, password, salt, banned, whitelisted FROM accounts WHERE username = $1",
		username,
	)
	if err := row.Scan(&a.UserID, &a.Username, &passwordB64, &saltB64, &a.Banned, &a.Whitelisted); err != nil {
		if err == pgx.ErrNoRows {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("store: get_user: %w", err)
	}
	if err := decodeFixed(passwordB64, a.PasswordHash[:]); err != nil {
		return Account{}, fmt.Errorf("store: get_user: password: %w", err)
	}
	if err := decodeFixed(saltB64, a.Salt[:]); err != nil {
		return Account{}, fmt.Errorf("store: get_user: salt: %w", err)
	}
	return a, nil
}

func (p *Postgres) InsertUser(ctx context.Context, username string, passwordHash [32]byte, salt [64]byte) (Account, error) {
	a := Account{
		Username:     username,
		PasswordHash: passwordHash,
		Salt:         salt,
	}
	row := p.conn.QueryRow(
		"INSERT INTO accounts (username, password, salt, banned, whitelisted) VALUES ($1, $2, $3, FALSE, FALSE) RETURNING user_id",
		username, base64.StdEncoding.EncodeToString(passwordHash[:]), base64.StdEncoding.EncodeToString(salt[:]),
	)
	if err := row.Scan(&a.UserID); err != nil {
		return Account{}, fmt.Errorf("store: insert_user: %w", err)
	}
	return a, nil
}

func (p *Postgres) InsertMessage(ctx context.Context, msg Message) error {
	_, err := p.conn.Exec(
		"INSERT INTO messages (sender_id, sender, content, send_time, image_hash) VALUES ($1, $2, $3, $4, NULL)",
		msg.SenderID, msg.Sender, msg.Content, msg.SendTime,
	)
	if err != nil {
		return fmt.Errorf("store: insert_message: %w", err)
	}
	return nil
}

func (p *Postgres) InsertImageMessage(ctx context.Context, msg Message, data []byte) error {
	hash := ImageHash(data)
	if _, err := p.conn.Exec(
		"INSERT INTO images (image_hash, data) VALUES ($1, $2) ON CONFLICT (image_hash) DO NOTHING",
		hash, data,
	); err != nil {
		return fmt.Errorf("store: insert_image_message: image: %w", err)
	}
	if _, err := p.conn.Exec(
		"INSERT INTO messages (sender_id, sender, content, send_time, image_hash) VALUES ($1, $2, $3, $4, $5)",
		msg.SenderID, msg.Sender, msg.Content, msg.SendTime, hash,
	); err != nil {
		return fmt.Errorf("store: insert_image_message: message: %w", err)
	}
	return nil
}

func (p *Postgres) FetchMessages(ctx context.Context, offset, count int64) ([]Message, error) {
	count = ClampCount(count)
	rows, err := p.conn.Query(
		"SELECT sender_id, sender, content, send_time, image_hash FROM messages ORDER BY send_time DESC OFFSET $1 LIMIT $2",
		offset, count,
	)
	if err != nil {
		return nil, fmt.Errorf("store: fetch_messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var imageHash *int64
		if err := rows.Scan(&m.SenderID, &m.Sender, &m.Content, &m.SendTime, &imageHash); err != nil {
			return nil, fmt.Errorf("store: fetch_messages: scan: %w", err)
		}
		if imageHash != nil {
			m.HasImage = true
			m.ImageHash = *imageHash
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: fetch_messages: %w", err)
	}
	return out, nil
}

func (p *Postgres) FetchImage(ctx context.Context, hash int64) ([]byte, error) {
	var data []byte
	row := p.conn.QueryRow("SELECT data FROM images WHERE image_hash = $1", hash)
	if err := row.Scan(&data); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: fetch_image: %w", err)
	}
	return data, nil
}

func (p *Postgres) SetBanned(ctx context.Context, username string, banned bool) error {
	tag, err := p.conn.Exec("UPDATE accounts SET banned = $1 WHERE username = $2", banned, username)
	if err != nil {
		return fmt.Errorf("store: set_banned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetWhitelisted(ctx context.Context, username string, whitelisted bool) error {
	tag, err := p.conn.Exec("UPDATE accounts SET whitelisted = $1 WHERE username = $2", whitelisted, username)
	if err != nil {
		return fmt.Errorf("store: set_whitelisted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeFixed(s string, dst []byte) error {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("decoded length %d, want %d", len(b), len(dst))
	}
	copy(dst, b)
	return nil
}

var _ Store = (*Postgres)(nil)
