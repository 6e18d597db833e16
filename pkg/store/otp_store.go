package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkth/jifou/pkg/auth"
)

var (
	ErrOTPSendRateLimited  = errors.New("too many verification code requests")
	ErrOTPChallengeInvalid = errors.New("verification request is invalid")
	ErrOTPCodeInvalid      = errors.New("incorrect verification code")
	ErrOTPCodeExpired      = errors.New("verification code expired")
)

const otpCodeLength = 6

// OTPOptions configures code lifetime and throttling.
type OTPOptions struct {
	TTL         time.Duration
	ResendAfter time.Duration
	MaxAttempts int
}

func (o OTPOptions) normalized() OTPOptions {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.ResendAfter < 0 {
		o.ResendAfter = 0
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	return o
}

// OTPStore keeps one pending challenge per phone number.
type OTPStore interface {
	// Issue creates a fresh code for phone, replacing any pending one.
	Issue(ctx context.Context, phone string) (string, error)
	// Verify consumes the pending code on success.
	Verify(ctx context.Context, phone, code string) error
	Options() OTPOptions
}

type otpChallenge struct {
	CodeHash  string    `json:"codeHash"`
	ExpiresAt time.Time `json:"expiresAt"`
	Attempts  int       `json:"attempts"`
}

// RedisOTPStore stores challenges in Redis, keyed per phone.
type RedisOTPStore struct {
	client    *redis.Client
	keyPrefix string
	opts      OTPOptions
}

// NewRedisOTPStore builds a Redis-backed OTP store on a shared client.
func NewRedisOTPStore(client *redis.Client, prefix string, opts OTPOptions) (*RedisOTPStore, error) {
	if client == nil {
		return nil, errors.New("otp redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "jifou:auth:otp"
	}
	return &RedisOTPStore{client: client, keyPrefix: prefix, opts: opts.normalized()}, nil
}

func (s *RedisOTPStore) Options() OTPOptions { return s.opts }

func (s *RedisOTPStore) Issue(ctx context.Context, phone string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resendKey := s.resendKey(phone)
	if s.opts.ResendAfter > 0 {
		allowed, err := s.client.SetNX(ctx, resendKey, "1", s.opts.ResendAfter).Result()
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", ErrOTPSendRateLimited
		}
	}
	code, hash, err := newCode()
	if err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", err
	}
	raw, err := json.Marshal(otpChallenge{
		CodeHash:  hash,
		ExpiresAt: time.Now().UTC().Add(s.opts.TTL),
	})
	if err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", fmt.Errorf("marshal otp challenge: %w", err)
	}
	if err := s.client.Set(ctx, s.challengeKey(phone), raw, s.opts.TTL).Err(); err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", err
	}
	return code, nil
}

func (s *RedisOTPStore) Verify(ctx context.Context, phone, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrOTPCodeInvalid
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	key := s.challengeKey(phone)
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrOTPChallengeInvalid
	}
	if err != nil {
		return err
	}
	var challenge otpChallenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return fmt.Errorf("unmarshal otp challenge: %w", err)
	}
	if time.Now().UTC().After(challenge.ExpiresAt) {
		_ = s.client.Del(ctx, key).Err()
		return ErrOTPCodeExpired
	}
	if !auth.CheckCode(code, challenge.CodeHash) {
		challenge.Attempts++
		if challenge.Attempts >= s.opts.MaxAttempts {
			_ = s.client.Del(ctx, key).Err()
			return ErrOTPCodeInvalid
		}
		if updated, err := json.Marshal(challenge); err == nil {
			if ttl, err := s.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				_ = s.client.Set(ctx, key, updated, ttl).Err()
			}
		}
		return ErrOTPCodeInvalid
	}
	return s.client.Del(ctx, key).Err()
}

func (s *RedisOTPStore) challengeKey(phone string) string {
	return fmt.Sprintf("%s:challenge:%s", s.keyPrefix, phone)
}

func (s *RedisOTPStore) resendKey(phone string) string {
	return fmt.Sprintf("%s:resend:%s", s.keyPrefix, phone)
}

// MemoryOTPStore is the single-process fallback when Redis is not configured.
// Expired entries are evicted on every write.
type MemoryOTPStore struct {
	mu         sync.Mutex
	opts       OTPOptions
	challenges map[string]otpChallenge
	resend     map[string]time.Time
	now        func() time.Time
}

func NewMemoryOTPStore(opts OTPOptions) *MemoryOTPStore {
	return &MemoryOTPStore{
		opts:       opts.normalized(),
		challenges: make(map[string]otpChallenge),
		resend:     make(map[string]time.Time),
		now:        time.Now,
	}
}

func (s *MemoryOTPStore) Options() OTPOptions { return s.opts }

func (s *MemoryOTPStore) Issue(_ context.Context, phone string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.evictLocked(now)
	if until, ok := s.resend[phone]; ok && now.Before(until) {
		return "", ErrOTPSendRateLimited
	}
	code, hash, err := newCode()
	if err != nil {
		return "", err
	}
	s.challenges[phone] = otpChallenge{CodeHash: hash, ExpiresAt: now.Add(s.opts.TTL)}
	if s.opts.ResendAfter > 0 {
		s.resend[phone] = now.Add(s.opts.ResendAfter)
	}
	return code, nil
}

func (s *MemoryOTPStore) Verify(_ context.Context, phone, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrOTPCodeInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[phone]
	if !ok {
		return ErrOTPChallengeInvalid
	}
	if s.now().After(challenge.ExpiresAt) {
		delete(s.challenges, phone)
		return ErrOTPCodeExpired
	}
	if !auth.CheckCode(code, challenge.CodeHash) {
		challenge.Attempts++
		if challenge.Attempts >= s.opts.MaxAttempts {
			delete(s.challenges, phone)
		} else {
			s.challenges[phone] = challenge
		}
		return ErrOTPCodeInvalid
	}
	delete(s.challenges, phone)
	return nil
}

func (s *MemoryOTPStore) evictLocked(now time.Time) {
	for phone, c := range s.challenges {
		if now.After(c.ExpiresAt) {
			delete(s.challenges, phone)
		}
	}
	for phone, until := range s.resend {
		if !now.Before(until) {
			delete(s.resend, phone)
		}
	}
}

func newCode() (string, string, error) {
	code, err := auth.GenerateNumericCode(otpCodeLength)
	if err != nil {
		return "", "", fmt.Errorf("generate otp code: %w", err)
	}
	hash, err := auth.HashCode(code)
	if err != nil {
		return "", "", fmt.Errorf("hash otp code: %w", err)
	}
	return code, hash, nil
}
