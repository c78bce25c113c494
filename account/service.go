// Package account owns player account records: creation, credential checks,
// identity lookups and status / last-character updates. It talks to storage
// only through a store.Gateway.
package account

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kasuganosora/playeraccounts/model"
	"github.com/kasuganosora/playeraccounts/plugin/hook"
	"github.com/kasuganosora/playeraccounts/store"
	"go.uber.org/zap"
)

const (
	maxUsernameLen = 255
	maxEmailLen    = 255
	maxLanguageLen = 10
	maxIPLen       = 45
)

const selectAccount = "SELECT * FROM " + model.AccountsTable

// NewAccount holds the inputs of CreateAccount. Email, SteamID, Language and
// IPAddress are optional; blank or zero values are stored as absent.
type NewAccount struct {
	Username  string
	Password  string
	Email     string
	SteamID   int64
	Language  string
	IPAddress string
}

// Service implements account operations over a persistence gateway.
// Construct it once in the composition root and call Initialize before use.
type Service struct {
	gw         store.Gateway
	hooks      *hook.HookCenter
	logger     *zap.Logger
	bcryptCost int
	ready      atomic.Bool
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHooks makes the service trigger account lifecycle hooks.
func WithHooks(hc *hook.HookCenter) Option {
	return func(s *Service) { s.hooks = hc }
}

// WithBcrypt stores new password hashes with bcrypt at the given cost.
// Existing hex digests keep verifying.
func WithBcrypt(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// NewService creates an uninitialized Service.
func NewService(gw store.Gateway, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{gw: gw, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize provisions the accounts table. The service stays unusable if
// this fails.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.gw.EnsureTable(ctx, model.AccountsTable, &model.Account{}); err != nil {
		s.ready.Store(false)
		s.logger.Error("account table provisioning failed", zap.Error(err))
		return storageErr("ensure table", err)
	}
	s.ready.Store(true)
	s.logger.Info("account service initialized")
	return nil
}

// Ready reports whether Initialize has succeeded.
func (s *Service) Ready() bool { return s.ready.Load() }

func (s *Service) checkReady() error {
	if !s.ready.Load() {
		return ErrNotInitialized
	}
	return nil
}

// CreateAccount validates req, stores a new account and returns it.
//
// Insert success is authoritative. If the follow-up read that fetches the
// assigned id fails, the inconsistency is logged and the returned account
// has AccountID 0; hooks are not run in that case.
func (s *Service) CreateAccount(ctx context.Context, req NewAccount) (*model.Account, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		s.logger.Error("create account rejected: empty username")
		return nil, invalid("username is required")
	}
	if len(username) > maxUsernameLen {
		s.logger.Error("create account rejected: username too long", zap.Int("len", len(username)))
		return nil, invalid("username too long")
	}
	if req.Password == "" {
		s.logger.Error("create account rejected: empty password", zap.String("username", username))
		return nil, invalid("password is required")
	}
	email := strings.TrimSpace(req.Email)
	if len(email) > maxEmailLen {
		s.logger.Error("create account rejected: email too long", zap.String("username", username), zap.Int("len", len(email)))
		return nil, invalid("email too long")
	}
	language := strings.TrimSpace(req.Language)
	if len(language) > maxLanguageLen {
		s.logger.Error("create account rejected: language too long", zap.String("username", username), zap.Int("len", len(language)))
		return nil, invalid("language too long")
	}
	ip := strings.TrimSpace(req.IPAddress)
	if len(ip) > maxIPLen {
		s.logger.Error("create account rejected: ip address too long", zap.String("username", username), zap.Int("len", len(ip)))
		return nil, invalid("ip address too long")
	}
	if req.SteamID < 0 {
		s.logger.Error("create account rejected: negative steam id", zap.String("username", username), zap.Int64("steam_id", req.SteamID))
		return nil, invalid("steam id must not be negative")
	}

	hash, err := s.hashFor(req.Password)
	if err != nil {
		s.logger.Error("password hashing failed", zap.Error(err))
		return nil, err
	}

	now := s.now().UTC()
	row := map[string]interface{}{
		"username":          username,
		"password_hash":     hash,
		"email":             nullString(email),
		"steam_id":          nullInt64(req.SteamID),
		"last_character_id": 0,
		"last_login":        now,
		"creation_date":     now,
	}
	if ip == "" {
		s.logger.Warn("create account without ip address", zap.String("username", username))
	} else {
		row["last_login_ip"] = ip
	}
	if language == "" {
		s.logger.Warn("create account without language", zap.String("username", username))
	} else {
		row["language"] = language
	}

	if err := s.gw.Insert(ctx, model.AccountsTable, row); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			conflict := &ConflictError{Field: s.conflictingField(ctx, username, email, req.SteamID), Err: err}
			s.logger.Info("create account conflict",
				zap.String("username", username),
				zap.String("field", conflict.Field))
			return nil, conflict
		}
		s.logger.Error("create account insert failed", zap.String("username", username), zap.Error(err))
		return nil, storageErr("insert account", err)
	}

	acc, err := s.findOne(ctx, "username = @username", store.Params{"username": username})
	if err != nil || acc == nil {
		s.logger.Error("account inserted but id lookup failed",
			zap.String("username", username), zap.Error(err))
		acc = &model.Account{
			Username:     username,
			PasswordHash: hash,
			Email:        nullString(email),
			SteamID:      nullInt64(req.SteamID),
			LastLogin:    now,
			LastLoginIP:  storedIP(ip),
			Language:     nullString(language),
			CreationDate: now,
		}
		return acc, nil
	}

	s.logger.Info("account created",
		zap.Int64("account_id", acc.AccountID),
		zap.String("username", username))
	s.trigger(ctx, hook.AfterAccountCreate, acc)
	return acc, nil
}

// conflictingField probes each unique key to name the one that collided.
func (s *Service) conflictingField(ctx context.Context, username, email string, steamID int64) string {
	if acc, _ := s.findOne(ctx, "username = @username", store.Params{"username": username}); acc != nil {
		return FieldUsername
	}
	if email != "" {
		if acc, _ := s.findOne(ctx, "email = @email", store.Params{"email": email}); acc != nil {
			return FieldEmail
		}
	}
	if steamID != 0 {
		if acc, _ := s.findOne(ctx, "steam_id = @steam_id", store.Params{"steam_id": steamID}); acc != nil {
			return FieldSteamID
		}
	}
	return ""
}

// VerifyPassword reports whether password matches the stored hash for
// username. An unknown username is (false, nil). A stored row without a hash
// is (false, ErrCorruptRecord).
func (s *Service) VerifyPassword(ctx context.Context, username, password string) (bool, error) {
	acc, err := s.GetAccountByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	if acc == nil {
		s.logger.Info("verify password: unknown username", zap.String("username", username))
		return false, nil
	}
	return s.checkPassword(acc, password)
}

// CheckPassword verifies password against an already loaded account.
func (s *Service) CheckPassword(acc *model.Account, password string) (bool, error) {
	if err := s.checkReady(); err != nil {
		return false, err
	}
	return s.checkPassword(acc, password)
}

func (s *Service) checkPassword(acc *model.Account, password string) (bool, error) {
	if acc.PasswordHash == "" {
		s.logger.Error("account has no password hash",
			zap.Int64("account_id", acc.AccountID),
			zap.String("username", acc.Username))
		return false, ErrCorruptRecord
	}
	return passwordMatches(acc.PasswordHash, password), nil
}

// GetAccountBySteamID returns the account linked to steamID, or nil.
// A zero id is never linked and returns nil without a query.
func (s *Service) GetAccountBySteamID(ctx context.Context, steamID int64) (*model.Account, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	if steamID <= 0 {
		return nil, nil
	}
	return s.lookup(ctx, "steam_id = @steam_id", store.Params{"steam_id": steamID})
}

// GetAccountByUsername returns the account named username, or nil.
func (s *Service) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil
	}
	return s.lookup(ctx, "username = @username", store.Params{"username": username})
}

// GetAccountByAccountID returns the account with the given id, or nil.
func (s *Service) GetAccountByAccountID(ctx context.Context, accountID int64) (*model.Account, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	if accountID <= 0 {
		return nil, nil
	}
	return s.lookup(ctx, "account_id = @account_id", store.Params{"account_id": accountID})
}

func (s *Service) lookup(ctx context.Context, where string, params store.Params) (*model.Account, error) {
	acc, err := s.findOne(ctx, where, params)
	if err != nil {
		s.logger.Error("account lookup failed", zap.String("where", where), zap.Error(err))
		return nil, storageErr("lookup account", err)
	}
	return acc, nil
}

// findOne returns the first matching row. Keys are unique, so more than one
// row is not expected.
func (s *Service) findOne(ctx context.Context, where string, params store.Params) (*model.Account, error) {
	var rows []model.Account
	if err := s.gw.Query(ctx, &rows, selectAccount+" WHERE "+where+" LIMIT 1", params); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// DetermineLoginMethod picks the identifier a session should log in with.
// SteamID wins when both are supplied.
func (s *Service) DetermineLoginMethod(steamID, accountID int64) LoginMethod {
	switch {
	case steamID != 0 && accountID != 0:
		s.logger.Warn("both steam id and account id supplied; using steam id",
			zap.Int64("steam_id", steamID), zap.Int64("account_id", accountID))
		return LoginMethodSteamID
	case steamID != 0:
		return LoginMethodSteamID
	case accountID != 0:
		return LoginMethodAccountID
	default:
		s.logger.Warn("no login identifier supplied")
		return LoginMethodNone
	}
}

// ResolveLogin determines the login method and loads the matching account.
// The account is nil when the method is None or no row matches.
func (s *Service) ResolveLogin(ctx context.Context, steamID, accountID int64) (*model.Account, LoginMethod, error) {
	if err := s.checkReady(); err != nil {
		return nil, LoginMethodNone, err
	}
	method := s.DetermineLoginMethod(steamID, accountID)
	var acc *model.Account
	var err error
	switch method {
	case LoginMethodSteamID:
		acc, err = s.GetAccountBySteamID(ctx, steamID)
	case LoginMethodAccountID:
		acc, err = s.GetAccountByAccountID(ctx, accountID)
	}
	return acc, method, err
}

// SetLastPlayedCharacter records the character the account played last.
// Negative character ids are stored as 0.
func (s *Service) SetLastPlayedCharacter(ctx context.Context, accountID, characterID int64) error {
	if characterID < 0 {
		characterID = 0
	}
	return s.updateAccount(ctx, "set last character", accountID,
		map[string]interface{}{"last_character_id": characterID})
}

// UpdateAccountStatus sets the status code. This is the only deactivation /
// ban / reactivation mechanism; rows are never deleted.
func (s *Service) UpdateAccountStatus(ctx context.Context, accountID int64, status int) error {
	if err := s.updateAccount(ctx, "update status", accountID,
		map[string]interface{}{"status": status}); err != nil {
		return err
	}
	s.logger.Info("account status updated",
		zap.Int64("account_id", accountID), zap.Int("status", status))
	s.trigger(ctx, hook.AfterAccountStatusChange, StatusChange{AccountID: accountID, Status: status})
	return nil
}

// RecordLogin stamps the last-login time and address. An empty ip keeps the
// stored address.
func (s *Service) RecordLogin(ctx context.Context, acc *model.Account, ip string) error {
	if acc == nil {
		return invalid("account is required")
	}
	values := map[string]interface{}{"last_login": s.now().UTC()}
	if ip = strings.TrimSpace(ip); ip != "" && len(ip) <= maxIPLen {
		values["last_login_ip"] = ip
	}
	if err := s.updateAccount(ctx, "record login", acc.AccountID, values); err != nil {
		return err
	}
	s.trigger(ctx, hook.AfterAccountLogin, acc)
	return nil
}

// UpdatePassword replaces the stored hash.
func (s *Service) UpdatePassword(ctx context.Context, accountID int64, password string) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	if password == "" {
		return invalid("password is required")
	}
	hash, err := s.hashFor(password)
	if err != nil {
		return err
	}
	return s.updateAccount(ctx, "update password", accountID,
		map[string]interface{}{"password_hash": hash})
}

// updateAccount applies values to one account. Zero affected rows is
// reported as ErrAccountNotFound.
func (s *Service) updateAccount(ctx context.Context, op string, accountID int64, values map[string]interface{}) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	if accountID <= 0 {
		s.logger.Error(op+" rejected: invalid account id", zap.Int64("account_id", accountID))
		return invalid("account id must be positive")
	}
	n, err := s.gw.Update(ctx, model.AccountsTable, values,
		"account_id = @account_id", store.Params{"account_id": accountID})
	if err != nil {
		s.logger.Error(op+" failed", zap.Int64("account_id", accountID), zap.Error(err))
		return storageErr(op, err)
	}
	if n == 0 {
		s.logger.Warn(op+" affected no rows; account may not exist", zap.Int64("account_id", accountID))
		return ErrAccountNotFound
	}
	return nil
}

func (s *Service) trigger(ctx context.Context, event string, data interface{}) {
	if s.hooks == nil {
		return
	}
	if _, err := s.hooks.Trigger(ctx, event, data); err != nil {
		s.logger.Error("account hook failed", zap.String("event", event), zap.Error(err))
	}
}

// storedIP mirrors the last_login_ip column default for rows inserted
// without an address.
func storedIP(ip string) string {
	if ip == "" {
		return model.DefaultLoginIP
	}
	return ip
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nullInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
