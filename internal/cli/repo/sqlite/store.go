package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"Duet/internal/cli/model"
	"Duet/internal/cli/repo"
	"Duet/internal/timeline"

	_ "modernc.org/sqlite"
)

// Store - локальная база клиента (SQLite): kv, лента и индексы.
type Store struct {
	db *sql.DB
}

var _ repo.TimelineStore = (*Store)(nil)

var loginRe = regexp.MustCompile(`^[A-Za-z0-9._@-]+$`)

// OpenForUser открывает (и создаёт при необходимости) файл БД для указанного логина
// в каталоге base. Вторым значением возвращается путь к БД.
func OpenForUser(base, login string) (*Store, string, error) {
	if login == "" {
		return nil, "", errors.New("empty login for user store")
	}
	if !loginRe.MatchString(login) {
		return nil, "", fmt.Errorf("login %q cannot be used as a directory name", login)
	}
	dir := filepath.Join(base, login)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, "", err
	}
	dbPath := filepath.Join(dir, "client.sqlite")
	s, err := Open(dbPath)
	if err != nil {
		return nil, "", err
	}
	return s, dbPath, nil
}

// Open открывает базу по DSN/пути. ":memory:" годится для тестов.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// одно соединение: in-memory база живёт в нём, а запись в SQLite всё равно последовательна
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close закрывает соединение с БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- kv ---

func (s *Store) Get(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) Put(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO kv(key, value) VALUES(?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

// --- messages ---

func (s *Store) UpsertMessages(msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO messages(id, chat_id, sender_id, text, sent_at, undecryptable)
        VALUES(?, ?, ?, ?, ?, ?)
        ON CONFLICT(chat_id, id) DO UPDATE SET
            text = CASE WHEN excluded.undecryptable = 0 THEN excluded.text ELSE messages.text END,
            undecryptable = MIN(messages.undecryptable, excluded.undecryptable)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.Exec(m.ID, m.ChatID, m.SenderID, m.Text, m.SentAt, boolInt(m.Undecryptable)); err != nil {
			return fmt.Errorf("upsert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// MessagesBefore выбирает limit+1 строк не позже курсора и отрезает сам курсор.
func (s *Store) MessagesBefore(chatID string, cursor timeline.Cursor, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var (
		rows *sql.Rows
		err  error
	)
	if cursor.IsZero() {
		rows, err = s.db.Query(`SELECT id, chat_id, sender_id, text, sent_at, undecryptable
            FROM messages WHERE chat_id = ?
            ORDER BY sent_at DESC, id DESC LIMIT ?`, chatID, limit)
	} else {
		rows, err = s.db.Query(`SELECT id, chat_id, sender_id, text, sent_at, undecryptable
            FROM messages WHERE chat_id = ? AND (sent_at < ? OR (sent_at = ? AND id <= ?))
            ORDER BY sent_at DESC, id DESC LIMIT ?`, chatID, cursor.At, cursor.At, cursor.ID, limit+1)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if cursor.IsZero() {
		return out, nil
	}
	return timeline.TrimPage(out, cursor, limit), nil
}

func (s *Store) GetMessage(chatID, id string) (*model.Message, error) {
	row := s.db.QueryRow(`SELECT id, chat_id, sender_id, text, sent_at, undecryptable
        FROM messages WHERE chat_id = ? AND id = ?`, chatID, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %q not found", id)
		}
		return nil, err
	}
	return &m, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (model.Message, error) {
	var m model.Message
	var undecryptable int
	if err := sc.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.SentAt, &undecryptable); err != nil {
		return model.Message{}, err
	}
	m.Undecryptable = undecryptable != 0
	return m, nil
}

// --- receipts ---

func (s *Store) UpsertReceipt(r model.Receipt) error {
	var readAt any
	if r.ReadAt != nil {
		readAt = r.ReadAt.UnixMilli()
	}
	// readAt не откатывается назад в null: квитанции приходят и вне порядка
	_, err := s.db.Exec(`INSERT INTO receipts(chat_id, message_id, recipient_id, delivered_at, read_at)
        VALUES(?, ?, ?, ?, ?)
        ON CONFLICT(chat_id, message_id) DO UPDATE SET
            delivered_at = excluded.delivered_at,
            read_at = COALESCE(excluded.read_at, receipts.read_at)`,
		r.ChatID, r.MessageID, r.RecipientID, r.DeliveredAt.UnixMilli(), readAt)
	return err
}

func (s *Store) DeleteReceipt(chatID, messageID string) error {
	_, err := s.db.Exec(`DELETE FROM receipts WHERE chat_id = ? AND message_id = ?`, chatID, messageID)
	return err
}

func (s *Store) Receipts(chatID string, messageIDs []string) (map[string]model.Receipt, error) {
	out := make(map[string]model.Receipt, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	q := `SELECT message_id, recipient_id, delivered_at, read_at FROM receipts
        WHERE chat_id = ? AND message_id IN (` + placeholders(len(messageIDs)) + `)`
	rows, err := s.db.Query(q, append([]any{chatID}, anySlice(messageIDs)...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		r := model.Receipt{ChatID: chatID}
		var delivered int64
		var read sql.NullInt64
		if err := rows.Scan(&r.MessageID, &r.RecipientID, &delivered, &read); err != nil {
			return nil, err
		}
		r.DeliveredAt = time.UnixMilli(delivered).UTC()
		if read.Valid {
			t := time.UnixMilli(read.Int64).UTC()
			r.ReadAt = &t
		}
		out[r.MessageID] = r
	}
	return out, rows.Err()
}

// --- reactions ---

func (s *Store) ReplaceReactions(chatID, messageID string, reactions []model.Reaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM reactions WHERE chat_id = ? AND message_id = ?`, chatID, messageID); err != nil {
		return err
	}
	for _, r := range reactions {
		if _, err := tx.Exec(`INSERT INTO reactions(chat_id, message_id, reactor_uid, emoji, updated_at)
            VALUES(?, ?, ?, ?, ?)`, chatID, messageID, r.ReactorUID, r.Emoji, r.UpdatedAt.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Reactions(chatID string, messageIDs []string) (map[string][]model.Reaction, error) {
	out := make(map[string][]model.Reaction)
	if len(messageIDs) == 0 {
		return out, nil
	}
	q := `SELECT message_id, reactor_uid, emoji, updated_at FROM reactions
        WHERE chat_id = ? AND message_id IN (` + placeholders(len(messageIDs)) + `)
        ORDER BY message_id, reactor_uid`
	rows, err := s.db.Query(q, append([]any{chatID}, anySlice(messageIDs)...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var msgID string
		var r model.Reaction
		var updated int64
		if err := rows.Scan(&msgID, &r.ReactorUID, &r.Emoji, &updated); err != nil {
			return nil, err
		}
		r.UpdatedAt = time.UnixMilli(updated).UTC()
		out[msgID] = append(out[msgID], r)
	}
	return out, rows.Err()
}

// DeleteChat удаляет ленту и индексы беседы одной транзакцией.
func (s *Store) DeleteChat(chatID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, table := range []string{"messages", "receipts", "reactions"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE chat_id = ?`, chatID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
