package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000

	roomSearchLimit    = 20
	messageFetchLimit  = 100
	messageSearchLimit = 50
)

// Store wraps the SQLite handle and exposes the queries the server needs.
type Store struct {
	db *sql.DB
}

// User represents a row in the users table.
type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Session captures persisted logins, keyed by the token's jti.
type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Room is a chat room row plus its derived member count and most recent
// message.
type Room struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	IsPrivate   bool     `json:"is_private"`
	CreatedBy   int64    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	MemberCount int      `json:"member_count"`
	LastMessage *Message `json:"last_message,omitempty"`
}

// Message is a chat message row joined with its author's username.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Type      string    `json:"message_type"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	IsEdited  bool      `json:"is_edited"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expense is one spent amount in integer cents.
type Expense struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"-"`
	Category    string    `json:"category"`
	AmountCents int64     `json:"amount_cents"`
	Note        string    `json:"note,omitempty"`
	IncurredAt  time.Time `json:"incurred_at"`
}

// Income is one received amount in integer cents.
type Income struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"-"`
	Source      string    `json:"source"`
	AmountCents int64     `json:"amount_cents"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Budget is a per-category monthly spending limit.
type Budget struct {
	UserID     int64  `json:"-"`
	Category   string `json:"category"`
	LimitCents int64  `json:"limit_cents"`
}

// BudgetStatusRow reports one category's month-to-date spend against its limit.
type BudgetStatusRow struct {
	Category   string `json:"category"`
	LimitCents int64  `json:"limit_cents"`
	SpentCents int64  `json:"spent_cents"`
}

// Goal is a savings goal with optional deadline.
type Goal struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"-"`
	Name        string     `json:"name"`
	TargetCents int64      `json:"target_cents"`
	SavedCents  int64      `json:"saved_cents"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// ErrUserExists is returned when attempting to insert a duplicate username.
var ErrUserExists = errors.New("user already exists")

// ErrNotFound is returned for updates against rows that do not exist.
var ErrNotFound = errors.New("not found")

// NewStore initializes the SQLite database at the provided path. Call Close
// when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "expenso.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash BLOB NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_private INTEGER NOT NULL DEFAULT 0,
			created_by INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY(created_by) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS room_members (
			room_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (room_id, user_id),
			FOREIGN KEY(room_id) REFERENCES rooms(id) ON DELETE CASCADE,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			message_type TEXT NOT NULL DEFAULT 'text',
			reply_to TEXT NOT NULL DEFAULT '',
			is_edited INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY(room_id) REFERENCES rooms(id) ON DELETE CASCADE,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			category TEXT NOT NULL,
			amount_cents INTEGER NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			incurred_at DATE NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS incomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			source TEXT NOT NULL,
			amount_cents INTEGER NOT NULL,
			received_at DATE NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS budgets (
			user_id INTEGER NOT NULL,
			category TEXT NOT NULL,
			limit_cents INTEGER NOT NULL,
			PRIMARY KEY (user_id, category),
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS goals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			target_cents INTEGER NOT NULL,
			saved_cents INTEGER NOT NULL DEFAULT 0,
			deadline DATE,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateUser inserts a new user. ErrUserExists is returned on conflicts.
func (s *Store) CreateUser(ctx context.Context, username string, passwordHash []byte) (int64, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO users(username, password_hash) VALUES(?, ?)`, username, passwordHash)
	if err != nil {
		if isConstraintError(err) {
			return 0, ErrUserExists
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetUserByUsername fetches a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID fetches a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id)
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// CreateSession stores a new session token for a user.
func (s *Store) CreateSession(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions(token, user_id, expires_at) VALUES(?, ?, ?)`, token, userID, expiresAt.UTC())
	return err
}

// GetSession returns a session if it exists.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token, user_id, expires_at, created_at FROM sessions WHERE token = ?`, token)
	var sess Session
	if err := row.Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes a session token (used for logout).
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// CreateRoom inserts a room. Membership is not implied; the creator joins
// through AddMember like anyone else.
func (s *Store) CreateRoom(ctx context.Context, name, description string, isPrivate bool, createdBy int64) (Room, error) {
	room := Room{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		IsPrivate:   isPrivate,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms(id, name, description, is_private, created_by, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		room.ID, room.Name, room.Description, room.IsPrivate, room.CreatedBy, room.CreatedAt)
	if err != nil {
		return Room{}, err
	}
	return room, nil
}

const roomColumns = `r.id, r.name, r.description, r.is_private, r.created_by, r.created_at,
	(SELECT COUNT(1) FROM room_members rm WHERE rm.room_id = r.id) AS member_count`

func scanRoom(row interface{ Scan(...any) error }) (Room, error) {
	var room Room
	err := row.Scan(&room.ID, &room.Name, &room.Description, &room.IsPrivate, &room.CreatedBy, &room.CreatedAt, &room.MemberCount)
	return room, err
}

// GetRoom fetches one room with its member count and latest message.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms r WHERE r.id = ?`, roomID)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.attachLastMessage(ctx, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ListRooms returns every room, newest first, each with member count and its
// most recent message embedded.
func (s *Store) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roomColumns+` FROM rooms r ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		if err := s.attachLastMessage(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) attachLastMessage(ctx context.Context, room *Room) error {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	`, room.ID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	room.LastMessage = &msg
	return nil
}

// SearchRooms matches a substring against room names and descriptions,
// capped at 20, newest first.
func (s *Store) SearchRooms(ctx context.Context, query string) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roomColumns+`
		FROM rooms r
		WHERE r.name LIKE '%' || ? || '%' OR r.description LIKE '%' || ? || '%'
		ORDER BY r.created_at DESC
		LIMIT ?
	`, query, query, roomSearchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, room)
	}
	return result, rows.Err()
}

// AddMember inserts a membership row. INSERT OR IGNORE makes the operation
// idempotent, so there is no read-then-write race on duplicate joins.
func (s *Store) AddMember(ctx context.Context, roomID string, userID int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO room_members(room_id, user_id) VALUES(?, ?)`, roomID, userID)
	return err
}

// RemoveMember deletes a membership row; removing a non-member is a no-op.
func (s *Store) RemoveMember(ctx context.Context, roomID string, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = ? AND user_id = ?`, roomID, userID)
	return err
}

// IsMember reports whether the user holds membership in the room.
func (s *Store) IsMember(ctx context.Context, roomID string, userID int64) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM room_members WHERE room_id = ? AND user_id = ?`, roomID, userID)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// JoinedRoomIDs lists the ids of every room the user belongs to.
func (s *Store) JoinedRoomIDs(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT room_id FROM room_members WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const messageColumns = `m.id, m.room_id, m.user_id, u.username, m.content, m.message_type, m.reply_to, m.is_edited, m.created_at, m.updated_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var msg Message
	err := row.Scan(&msg.ID, &msg.RoomID, &msg.UserID, &msg.UserName, &msg.Content, &msg.Type, &msg.ReplyTo, &msg.IsEdited, &msg.CreatedAt, &msg.UpdatedAt)
	return msg, err
}

// InsertMessage stores a new message and returns it with the author's name.
func (s *Store) InsertMessage(ctx context.Context, roomID string, userID int64, content, msgType, replyTo string) (Message, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, room_id, user_id, content, message_type, reply_to, is_edited, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, roomID, userID, content, msgType, replyTo, now, now)
	if err != nil {
		return Message{}, err
	}
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if msg == nil {
		return Message{}, ErrNotFound
	}
	return *msg, nil
}

// GetMessage fetches one message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.id = ?
	`, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// ListRoomMessages returns the room's most recent 100 messages in ascending
// creation order.
func (s *Store) ListRoomMessages(ctx context.Context, roomID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?
	`, roomID, messageFetchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var newestFirst []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// flip to ascending
	result := make([]Message, len(newestFirst))
	for i, msg := range newestFirst {
		result[len(newestFirst)-1-i] = msg
	}
	return result, nil
}

// UpdateMessage replaces content, marks the edited flag, bumps updated_at,
// and returns the fresh row.
func (s *Store) UpdateMessage(ctx context.Context, messageID, content string) (*Message, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, is_edited = 1, updated_at = ? WHERE id = ?`,
		content, time.Now().UTC(), messageID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetMessage(ctx, messageID)
}

// DeleteMessage removes a message row.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID)
	return err
}

// SearchMessages matches a substring against message content, capped at 50,
// most recent first. With roomID set the search is room-scoped; otherwise it
// spans the user's joined rooms.
func (s *Store) SearchMessages(ctx context.Context, query, roomID string, userID int64) ([]Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if roomID != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages m JOIN users u ON u.id = m.user_id
			WHERE m.room_id = ? AND m.content LIKE '%' || ? || '%'
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT ?
		`, roomID, query, messageSearchLimit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages m JOIN users u ON u.id = m.user_id
			WHERE m.content LIKE '%' || ? || '%'
			  AND m.room_id IN (SELECT room_id FROM room_members WHERE user_id = ?)
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT ?
		`, query, userID, messageSearchLimit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

// CreateExpense records a spent amount.
func (s *Store) CreateExpense(ctx context.Context, userID int64, category string, amountCents int64, note string, incurredAt time.Time) (Expense, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO expenses(user_id, category, amount_cents, note, incurred_at) VALUES(?, ?, ?, ?, ?)`,
		userID, category, amountCents, note, incurredAt.UTC())
	if err != nil {
		return Expense{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Expense{}, err
	}
	return Expense{ID: id, UserID: userID, Category: category, AmountCents: amountCents, Note: note, IncurredAt: incurredAt.UTC()}, nil
}

// ListExpenses returns a user's expenses for a YYYY-MM month, newest first.
func (s *Store) ListExpenses(ctx context.Context, userID int64, month string) ([]Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, category, amount_cents, note, incurred_at
		FROM expenses
		WHERE user_id = ? AND strftime('%Y-%m', incurred_at) = ?
		ORDER BY incurred_at DESC, id DESC
	`, userID, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Expense
	for rows.Next() {
		var e Expense
		if err := rows.Scan(&e.ID, &e.UserID, &e.Category, &e.AmountCents, &e.Note, &e.IncurredAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// DeleteExpense removes one of the user's expenses.
func (s *Store) DeleteExpense(ctx context.Context, userID, expenseID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ? AND user_id = ?`, expenseID, userID)
	return err
}

// CreateIncome records a received amount.
func (s *Store) CreateIncome(ctx context.Context, userID int64, source string, amountCents int64, receivedAt time.Time) (Income, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO incomes(user_id, source, amount_cents, received_at) VALUES(?, ?, ?, ?)`,
		userID, source, amountCents, receivedAt.UTC())
	if err != nil {
		return Income{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Income{}, err
	}
	return Income{ID: id, UserID: userID, Source: source, AmountCents: amountCents, ReceivedAt: receivedAt.UTC()}, nil
}

// ListIncomes returns a user's incomes for a YYYY-MM month, newest first.
func (s *Store) ListIncomes(ctx context.Context, userID int64, month string) ([]Income, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, source, amount_cents, received_at
		FROM incomes
		WHERE user_id = ? AND strftime('%Y-%m', received_at) = ?
		ORDER BY received_at DESC, id DESC
	`, userID, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Income
	for rows.Next() {
		var in Income
		if err := rows.Scan(&in.ID, &in.UserID, &in.Source, &in.AmountCents, &in.ReceivedAt); err != nil {
			return nil, err
		}
		result = append(result, in)
	}
	return result, rows.Err()
}

// UpsertBudget sets a per-category monthly limit.
func (s *Store) UpsertBudget(ctx context.Context, userID int64, category string, limitCents int64) (Budget, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budgets(user_id, category, limit_cents) VALUES(?, ?, ?)
		ON CONFLICT(user_id, category) DO UPDATE SET limit_cents = excluded.limit_cents
	`, userID, category, limitCents)
	if err != nil {
		return Budget{}, err
	}
	return Budget{UserID: userID, Category: category, LimitCents: limitCents}, nil
}

// ListBudgets returns a user's budgets ordered by category.
func (s *Store) ListBudgets(ctx context.Context, userID int64) ([]Budget, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, category, limit_cents FROM budgets WHERE user_id = ? ORDER BY category ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Budget
	for rows.Next() {
		var b Budget
		if err := rows.Scan(&b.UserID, &b.Category, &b.LimitCents); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// BudgetStatus joins budgets against the month's expenses per category.
func (s *Store) BudgetStatus(ctx context.Context, userID int64, month string) ([]BudgetStatusRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.category, b.limit_cents,
			COALESCE((SELECT SUM(e.amount_cents) FROM expenses e
				WHERE e.user_id = b.user_id AND e.category = b.category
				  AND strftime('%Y-%m', e.incurred_at) = ?), 0) AS spent_cents
		FROM budgets b
		WHERE b.user_id = ?
		ORDER BY b.category ASC
	`, month, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BudgetStatusRow
	for rows.Next() {
		var row BudgetStatusRow
		if err := rows.Scan(&row.Category, &row.LimitCents, &row.SpentCents); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// CreateGoal records a savings goal.
func (s *Store) CreateGoal(ctx context.Context, userID int64, name string, targetCents int64, deadline *time.Time) (Goal, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO goals(user_id, name, target_cents, saved_cents, deadline) VALUES(?, ?, ?, 0, ?)`,
		userID, name, targetCents, deadline)
	if err != nil {
		return Goal{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Goal{}, err
	}
	return Goal{ID: id, UserID: userID, Name: name, TargetCents: targetCents, Deadline: deadline}, nil
}

// ListGoals returns a user's goals, oldest first.
func (s *Store) ListGoals(ctx context.Context, userID int64) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, name, target_cents, saved_cents, deadline FROM goals WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Goal
	for rows.Next() {
		var g Goal
		if err := rows.Scan(&g.ID, &g.UserID, &g.Name, &g.TargetCents, &g.SavedCents, &g.Deadline); err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// UpdateGoalSaved sets the saved amount on a goal. ErrNotFound when the goal
// does not belong to the user.
func (s *Store) UpdateGoalSaved(ctx context.Context, userID, goalID, savedCents int64) (Goal, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE goals SET saved_cents = ? WHERE id = ? AND user_id = ?`, savedCents, goalID, userID)
	if err != nil {
		return Goal{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Goal{}, err
	}
	if affected == 0 {
		return Goal{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, name, target_cents, saved_cents, deadline FROM goals WHERE id = ?`, goalID)
	var g Goal
	if err := row.Scan(&g.ID, &g.UserID, &g.Name, &g.TargetCents, &g.SavedCents, &g.Deadline); err != nil {
		return Goal{}, err
	}
	return g, nil
}

// DeleteGoal removes one of the user's goals.
func (s *Store) DeleteGoal(ctx context.Context, userID, goalID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM goals WHERE id = ? AND user_id = ?`, goalID, userID)
	return err
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteConstraintCode
	}
	return false
}
