// Package redisstore backs the account and verification contracts with
// Redis. Account records live in hashes; email, nickname, phone, and
// provider identities are plain index keys pointing back at the account id.
// Uniqueness is enforced with SETNX claims and refresh rotation with a Lua
// compare-and-set, so correctness never depends on a process-local lock.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petlink-dev/petauth/account"
)

const defaultPrefix = "pa"

const (
	rotateStatusNotFound int64 = 0
	rotateStatusMismatch int64 = 1
	rotateStatusRotated  int64 = 2
)

// rotateRefreshScript is the atomic step behind refresh rotation: compare
// the stored digest against the presented one and either swap in the next
// digest or clear the field so the account must re-authenticate.
const rotateRefreshScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
local current = redis.call("HGET", key, "refresh_hash")
if not current or current == "" or current ~= ARGV[1] then
  redis.call("HDEL", key, "refresh_hash")
  return 1
end
redis.call("HSET", key, "refresh_hash", ARGV[2])
return 2
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

const setIfExistsScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
return 1
`

var setIfExistsLua = redis.NewScript(setIfExistsScript)

const delFieldIfExistsScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HDEL", KEYS[1], ARGV[1])
return 1
`

var delFieldIfExistsLua = redis.NewScript(delFieldIfExistsScript)

// AccountStore implements account.Store on Redis.
type AccountStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewAccountStore creates an AccountStore. prefix namespaces every key and
// defaults to "pa".
func NewAccountStore(redisClient redis.UniversalClient, prefix string) *AccountStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &AccountStore{redis: redisClient, prefix: prefix}
}

func (s *AccountStore) acctKey(id string) string {
	return s.prefix + ":acct:" + id
}

func (s *AccountStore) emailKey(email string) string {
	return s.prefix + ":email:" + strings.ToLower(email)
}

func (s *AccountStore) nickKey(nickname string) string {
	return s.prefix + ":nick:" + strings.ToLower(nickname)
}

func (s *AccountStore) phoneKey(phone string) string {
	return s.prefix + ":phone:" + phone
}

func (s *AccountStore) providerKey(provider account.Provider, providerID string) string {
	return s.prefix + ":prov:" + string(provider) + ":" + providerID
}

// Insert persists a new account, claiming its email, nickname, and phone.
// The email claim is the arbiter for creation races: of N concurrent inserts
// for the same email exactly one wins and the rest get ErrDuplicateEmail.
func (s *AccountStore) Insert(ctx context.Context, acct *account.Account) error {
	emailClaimed, err := s.redis.SetNX(ctx, s.emailKey(acct.Email), acct.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}
	if !emailClaimed {
		return account.ErrDuplicateEmail
	}

	nickClaimed, err := s.redis.SetNX(ctx, s.nickKey(acct.Nickname), acct.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}
	if !nickClaimed {
		if delErr := s.redis.Del(ctx, s.emailKey(acct.Email)).Err(); delErr != nil {
			return fmt.Errorf("%w: %v", account.ErrUnavailable, delErr)
		}
		return account.ErrDuplicateNickname
	}

	// The phone index is a recovery channel, so it is claimed like email and
	// nickname: a plain overwrite would let a later registrant capture
	// another account's phone.
	if acct.Phone != "" {
		phoneClaimed, err := s.redis.SetNX(ctx, s.phoneKey(acct.Phone), acct.ID, 0).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", account.ErrUnavailable, err)
		}
		if !phoneClaimed {
			if delErr := s.redis.Del(ctx, s.emailKey(acct.Email), s.nickKey(acct.Nickname)).Err(); delErr != nil {
				return fmt.Errorf("%w: %v", account.ErrUnavailable, delErr)
			}
			return account.ErrDuplicatePhone
		}
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.acctKey(acct.ID), encodeAccount(acct))
		if acct.Provider != account.ProviderLocal && acct.ProviderID != "" {
			pipe.Set(ctx, s.providerKey(acct.Provider, acct.ProviderID), acct.ID, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}

	return nil
}

// GetByID fetches an account by its id.
func (s *AccountStore) GetByID(ctx context.Context, id string) (*account.Account, error) {
	fields, err := s.redis.HGetAll(ctx, s.acctKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, account.ErrNotFound
	}
	return decodeAccount(id, fields)
}

// GetByEmail fetches an account through the email index.
func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	return s.getByIndex(ctx, s.emailKey(email))
}

// GetByNickname fetches an account through the nickname index.
func (s *AccountStore) GetByNickname(ctx context.Context, nickname string) (*account.Account, error) {
	return s.getByIndex(ctx, s.nickKey(nickname))
}

// GetByPhone fetches an account through the phone index.
func (s *AccountStore) GetByPhone(ctx context.Context, phone string) (*account.Account, error) {
	return s.getByIndex(ctx, s.phoneKey(phone))
}

// GetByProvider fetches an account through its external identity.
func (s *AccountStore) GetByProvider(ctx context.Context, provider account.Provider, providerID string) (*account.Account, error) {
	return s.getByIndex(ctx, s.providerKey(provider, providerID))
}

func (s *AccountStore) getByIndex(ctx context.Context, indexKey string) (*account.Account, error) {
	id, err := s.redis.Get(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}
	return s.GetByID(ctx, id)
}

// Update rewrites an account's profile fields and moves its indexes when
// email, nickname, phone, or provider identity changed. The refresh digest
// is deliberately out of scope; only SetRefreshTokenHash,
// RotateRefreshTokenHash, and ClearRefreshToken touch it.
func (s *AccountStore) Update(ctx context.Context, acct *account.Account) error {
	old, err := s.GetByID(ctx, acct.ID)
	if err != nil {
		return err
	}

	if !strings.EqualFold(old.Email, acct.Email) {
		if err := s.moveUniqueIndex(ctx, s.emailKey(old.Email), s.emailKey(acct.Email), acct.ID, account.ErrDuplicateEmail); err != nil {
			return err
		}
	}
	if !strings.EqualFold(old.Nickname, acct.Nickname) {
		if err := s.moveUniqueIndex(ctx, s.nickKey(old.Nickname), s.nickKey(acct.Nickname), acct.ID, account.ErrDuplicateNickname); err != nil {
			return err
		}
	}
	if old.Phone != acct.Phone {
		if acct.Phone != "" {
			claimed, err := s.redis.SetNX(ctx, s.phoneKey(acct.Phone), acct.ID, 0).Result()
			if err != nil {
				return fmt.Errorf("%w: %v", account.ErrUnavailable, err)
			}
			if !claimed {
				return account.ErrDuplicatePhone
			}
		}
		if old.Phone != "" {
			if err := s.redis.Del(ctx, s.phoneKey(old.Phone)).Err(); err != nil {
				return fmt.Errorf("%w: %v", account.ErrUnavailable, err)
			}
		}
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.acctKey(acct.ID), encodeAccount(acct))
		if old.Provider != acct.Provider || old.ProviderID != acct.ProviderID {
			if old.Provider != account.ProviderLocal && old.ProviderID != "" {
				pipe.Del(ctx, s.providerKey(old.Provider, old.ProviderID))
			}
			if acct.Provider != account.ProviderLocal && acct.ProviderID != "" {
				pipe.Set(ctx, s.providerKey(acct.Provider, acct.ProviderID), acct.ID, 0)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}

	return nil
}

func (s *AccountStore) moveUniqueIndex(ctx context.Context, oldKey, newKey, id string, dupErr error) error {
	claimed, err := s.redis.SetNX(ctx, newKey, id, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}
	if !claimed {
		return dupErr
	}
	if err := s.redis.Del(ctx, oldKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}
	return nil
}

// SetRefreshTokenHash stores hash as the account's sole valid refresh
// digest, replacing whatever was there.
func (s *AccountStore) SetRefreshTokenHash(ctx context.Context, id, hash string) error {
	result, err := setIfExistsLua.Run(ctx, s.redis, []string{s.acctKey(id)}, "refresh_hash", hash).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}
	if result == 0 {
		return account.ErrNotFound
	}
	return nil
}

// RotateRefreshTokenHash atomically swaps providedHash for nextHash. On a
// mismatch the stored digest is cleared before ErrRefreshMismatch is
// returned, so a replayed token costs the session.
func (s *AccountStore) RotateRefreshTokenHash(ctx context.Context, id, providedHash, nextHash string) error {
	result, err := rotateRefreshLua.Run(ctx, s.redis, []string{s.acctKey(id)}, providedHash, nextHash).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}

	switch result {
	case rotateStatusNotFound:
		return account.ErrNotFound
	case rotateStatusMismatch:
		return account.ErrRefreshMismatch
	case rotateStatusRotated:
		return nil
	default:
		return fmt.Errorf("%w: unknown rotate script status %d", account.ErrUnavailable, result)
	}
}

// ClearRefreshToken drops the account's refresh digest.
func (s *AccountStore) ClearRefreshToken(ctx context.Context, id string) error {
	result, err := delFieldIfExistsLua.Run(ctx, s.redis, []string{s.acctKey(id)}, "refresh_hash").Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}
	if result == 0 {
		return account.ErrNotFound
	}
	return nil
}

func encodeAccount(acct *account.Account) map[string]interface{} {
	return map[string]interface{}{
		"email":         acct.Email,
		"nickname":      acct.Nickname,
		"name":          acct.Name,
		"phone":         acct.Phone,
		"avatar_url":    acct.AvatarURL,
		"password_hash": acct.PasswordHash,
		"role":          acct.Role,
		"status":        strconv.Itoa(int(acct.Status)),
		"provider":      string(acct.Provider),
		"provider_id":   acct.ProviderID,
		"failed_logins": strconv.Itoa(acct.FailedLogins),
		"locked_until":  encodeTime(acct.LockedUntil),
		"last_login_at": encodeTime(acct.LastLoginAt),
		"created_at":    encodeTime(acct.CreatedAt),
		"updated_at":    encodeTime(acct.UpdatedAt),
	}
}

func decodeAccount(id string, fields map[string]string) (*account.Account, error) {
	status, err := strconv.Atoi(zeroDefault(fields["status"]))
	if err != nil {
		return nil, fmt.Errorf("corrupt account %s: status: %v", id, err)
	}
	failed, err := strconv.Atoi(zeroDefault(fields["failed_logins"]))
	if err != nil {
		return nil, fmt.Errorf("corrupt account %s: failed_logins: %v", id, err)
	}

	acct := &account.Account{
		ID:               id,
		Email:            fields["email"],
		Nickname:         fields["nickname"],
		Name:             fields["name"],
		Phone:            fields["phone"],
		AvatarURL:        fields["avatar_url"],
		PasswordHash:     fields["password_hash"],
		Role:             fields["role"],
		Status:           account.Status(status),
		Provider:         account.Provider(fields["provider"]),
		ProviderID:       fields["provider_id"],
		RefreshTokenHash: fields["refresh_hash"],
		FailedLogins:     failed,
	}

	for _, f := range []struct {
		name string
		dst  *time.Time
	}{
		{"locked_until", &acct.LockedUntil},
		{"last_login_at", &acct.LastLoginAt},
		{"created_at", &acct.CreatedAt},
		{"updated_at", &acct.UpdatedAt},
	} {
		t, err := decodeTime(fields[f.name])
		if err != nil {
			return nil, fmt.Errorf("corrupt account %s: %s: %v", id, f.name, err)
		}
		*f.dst = t
	}

	return acct, nil
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func decodeTime(raw string) (time.Time, error) {
	if raw == "" || raw == "0" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func zeroDefault(raw string) string {
	if raw == "" {
		return "0"
	}
	return raw
}
