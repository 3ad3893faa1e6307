package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"Duet/internal/model"
	"Duet/internal/timeline"
)

// Client - вызовы серверных операций от имени одного пользователя.
type Client struct {
	baseURL string
	token   string
}

func NewClient(baseURL, token string) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token}
}

// Token - текущий токен (после Register/Login).
func (c *Client) Token() string { return c.token }

type Auth struct {
	UID      string `json:"uid"`
	Login    string `json:"login"`
	PairCode string `json:"pairCode"`
}

type Partner struct {
	UID                string `json:"uid"`
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
	PublicKey          string `json:"publicKey"`
	MoodCiphertext     string `json:"moodCiphertext"`
	LocationCiphertext string `json:"locationCiphertext"`
}

type Profile struct {
	UID                string   `json:"uid"`
	Login              string   `json:"login"`
	PairCode           string   `json:"pairCode"`
	FirstName          string   `json:"firstName"`
	LastName           string   `json:"lastName"`
	PublicKey          string   `json:"publicKey"`
	MoodCiphertext     string   `json:"moodCiphertext"`
	LocationCiphertext string   `json:"locationCiphertext"`
	Paired             bool     `json:"paired"`
	ChatID             string   `json:"chatID"`
	Partner            *Partner `json:"partner"`
}

// ProfileUpdate - nil-поля не меняются.
type ProfileUpdate struct {
	FirstName          *string `json:"firstName,omitempty"`
	LastName           *string `json:"lastName,omitempty"`
	MoodCiphertext     *string `json:"moodCiphertext,omitempty"`
	LocationCiphertext *string `json:"locationCiphertext,omitempty"`
	PushToken          *string `json:"pushToken,omitempty"`
}

type Requests struct {
	Incoming []model.RelationshipRequest `json:"incoming"`
	Outgoing []model.RelationshipRequest `json:"outgoing"`
}

type AckResult struct {
	AlreadyAcked bool           `json:"alreadyAcked"`
	Receipt      *model.Receipt `json:"receipt"`
}

type ReadResult struct {
	AlreadyRead bool           `json:"alreadyRead"`
	Receipt     *model.Receipt `json:"receipt"`
}

type Reactions struct {
	MessageID string                        `json:"messageID"`
	Reactions map[string]model.ReactionSlot `json:"reactions"`
}

type History struct {
	Envelopes  []model.Envelope `json:"envelopes"`
	Receipts   []model.Receipt  `json:"receipts"`
	NextCursor *timeline.Cursor `json:"nextCursor"`
}

type LockRequest struct {
	InstallationID string `json:"installationID"`
	Platform       string `json:"platform"`
	DeviceName     string `json:"deviceName"`
	AppVersion     string `json:"appVersion"`
}

type ReleaseResult struct {
	Released bool   `json:"released"`
	Outcome  string `json:"outcome"`
}

// call выполняет запрос и декодирует ответ в out (если out != nil).
func (c *Client) call(ctx context.Context, method, path string, in, out any) (*http.Response, error) {
	resp, body, err := DoJSON(ctx, method, c.baseURL+path, in, c.token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return resp, decodeError(resp.StatusCode, body)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp, nil
}

func (c *Client) authenticate(ctx context.Context, path, login, password string) (*Auth, error) {
	var out Auth
	resp, err := c.call(ctx, http.MethodPost, path, map[string]string{"login": login, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	token, err := TokenFromResponse(resp)
	if err != nil {
		return nil, err
	}
	c.token = token
	return &out, nil
}

func (c *Client) Register(ctx context.Context, login, password string) (*Auth, error) {
	return c.authenticate(ctx, "/api/user/register", login, password)
}

func (c *Client) Login(ctx context.Context, login, password string) (*Auth, error) {
	return c.authenticate(ctx, "/api/user/login", login, password)
}

func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var out Profile
	if _, err := c.call(ctx, http.MethodGet, "/api/user/profile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) error {
	_, err := c.call(ctx, http.MethodPost, "/api/user/profile", upd, nil)
	return err
}

func (c *Client) PublishKey(ctx context.Context, publicKey string) error {
	_, err := c.call(ctx, http.MethodPost, "/api/user/key", map[string]string{"publicKey": publicKey}, nil)
	return err
}

// --- pairing ---

func (c *Client) CreatePairRequest(ctx context.Context, partnerCode string) (*model.RelationshipRequest, error) {
	var out model.RelationshipRequest
	if _, err := c.call(ctx, http.MethodPost, "/api/pairing/createPairRequest", map[string]string{"partnerCode": partnerCode}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RespondPairRequest(ctx context.Context, requestID, decision string) (*model.RelationshipRequest, error) {
	return c.respond(ctx, "/api/pairing/respondPairRequest", requestID, decision)
}

func (c *Client) CreateUnpairRequest(ctx context.Context) (*model.RelationshipRequest, error) {
	var out model.RelationshipRequest
	if _, err := c.call(ctx, http.MethodPost, "/api/pairing/createUnpairRequest", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RespondUnpairRequest(ctx context.Context, requestID, decision string) (*model.RelationshipRequest, error) {
	return c.respond(ctx, "/api/pairing/respondUnpairRequest", requestID, decision)
}

func (c *Client) respond(ctx context.Context, path, requestID, decision string) (*model.RelationshipRequest, error) {
	var out model.RelationshipRequest
	if _, err := c.call(ctx, http.MethodPost, path, map[string]string{"requestID": requestID, "decision": decision}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Requests(ctx context.Context) (*Requests, error) {
	var out Requests
	if _, err := c.call(ctx, http.MethodGet, "/api/pairing/requests", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- messages ---

func (c *Client) SendMessage(ctx context.Context, chatID, ciphertext string, keyVersion int) (*model.Envelope, error) {
	var out model.Envelope
	in := map[string]any{"chatID": chatID, "ciphertext": ciphertext, "keyVersion": keyVersion}
	if _, err := c.call(ctx, http.MethodPost, "/api/messages/sendMessage", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AckMessageStored(ctx context.Context, chatID, messageID string) (*AckResult, error) {
	var out AckResult
	if _, err := c.call(ctx, http.MethodPost, "/api/messages/ackMessageStored", messageRef(chatID, messageID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkMessageRead(ctx context.Context, chatID, messageID string) (*ReadResult, error) {
	var out ReadResult
	if _, err := c.call(ctx, http.MethodPost, "/api/messages/markMessageRead", messageRef(chatID, messageID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetMessageReaction(ctx context.Context, chatID, messageID, ciphertext string, keyVersion int) (*Reactions, error) {
	var out Reactions
	in := map[string]any{"chatID": chatID, "messageID": messageID, "ciphertext": ciphertext, "keyVersion": keyVersion}
	if _, err := c.call(ctx, http.MethodPost, "/api/messages/setMessageReaction", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ClearMessageReaction(ctx context.Context, chatID, messageID string) (*Reactions, error) {
	var out Reactions
	if _, err := c.call(ctx, http.MethodPost, "/api/messages/clearMessageReaction", messageRef(chatID, messageID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Inbox(ctx context.Context, limit int) ([]model.Envelope, error) {
	var out History
	path := "/api/messages/inbox"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if _, err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Envelopes, nil
}

// History без курсора - начальное окно с квитанциями, с курсором - страница назад.
func (c *Client) History(ctx context.Context, chatID string, before timeline.Cursor, limit int) (*History, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if !before.IsZero() {
		q.Set("before_ts", strconv.FormatInt(before.At, 10))
		q.Set("before_id", before.ID)
	}
	path := "/api/chats/" + url.PathEscape(chatID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out History
	if _, err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Heartbeat(ctx context.Context, chatID string) (*model.Heartbeat, error) {
	var out model.Heartbeat
	if _, err := c.call(ctx, http.MethodPost, "/api/chats/"+url.PathEscape(chatID)+"/heartbeat", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- session lock ---

func (c *Client) AcquireSessionLock(ctx context.Context, in LockRequest) (*model.SessionLock, error) {
	var out model.SessionLock
	if _, err := c.call(ctx, http.MethodPost, "/api/session/acquireSessionLock", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReleaseSessionLock(ctx context.Context, installationID string) (*ReleaseResult, error) {
	var out ReleaseResult
	if _, err := c.call(ctx, http.MethodPost, "/api/session/releaseSessionLock", map[string]string{"installationID": installationID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func messageRef(chatID, messageID string) map[string]string {
	return map[string]string{"chatID": chatID, "messageID": messageID}
}
