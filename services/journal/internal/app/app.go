package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"

	"github.com/inkth/jifou/internal/util"
	"github.com/inkth/jifou/pkg/annotate"
	"github.com/inkth/jifou/pkg/auth"
	"github.com/inkth/jifou/pkg/domain"
	"github.com/inkth/jifou/pkg/store"
)

const (
	defaultRecordLimit = 10
	maxContentRunes    = 5000
	maxFullNameRunes   = 100
)

// Config holds runtime configuration for the journal service. Collaborators
// left nil are built from the remaining fields.
type Config struct {
	DatabaseURL string
	Store       store.Store

	JWTSecret  string
	SessionTTL time.Duration
	JWT        store.JWTOptions
	Sessions   store.SessionStore

	// Redis backs OTP challenges and token revocation; nil keeps both in memory.
	Redis      *redis.Client
	OTP        store.OTPStore
	OTPOptions store.OTPOptions

	Annotator      annotate.Annotator
	Location       *time.Location
	MaxRecordLimit int
	Now            func() time.Time
}

// App wires storage, identity and annotation into the journal use-cases.
type App struct {
	store     store.Store
	sessions  store.SessionStore
	otp       store.OTPStore
	annotator annotate.Annotator
	loc       *time.Location
	maxLimit  int
	now       func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
	}

	sessions := cfg.Sessions
	if sessions == nil {
		var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
		if cfg.Redis != nil {
			revoker = store.NewRedisTokenRevoker(cfg.Redis, "")
		}
		ttl := cfg.SessionTTL
		if ttl <= 0 {
			ttl = 7 * 24 * time.Hour
		}
		jwtStore, err := store.NewJWTSessionStoreWithOptions(cfg.JWTSecret, ttl, revoker, cfg.JWT)
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		sessions = jwtStore
	}

	otp := cfg.OTP
	if otp == nil {
		if cfg.Redis != nil {
			redisOTP, err := store.NewRedisOTPStore(cfg.Redis, "", cfg.OTPOptions)
			if err != nil {
				return nil, fmt.Errorf("init otp store: %w", err)
			}
			otp = redisOTP
		} else {
			otp = store.NewMemoryOTPStore(cfg.OTPOptions)
		}
	}

	annotator := cfg.Annotator
	if annotator == nil {
		annotator = annotate.New(annotate.Config{})
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	maxLimit := cfg.MaxRecordLimit
	if maxLimit <= 0 {
		maxLimit = 100
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &App{
		store:     dataStore,
		sessions:  sessions,
		otp:       otp,
		annotator: annotator,
		loc:       loc,
		maxLimit:  maxLimit,
		now:       now,
	}, nil
}

// Close releases the store when it holds resources.
func (a *App) Close() error {
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// OTPChallenge describes an issued one-time code.
type OTPChallenge struct {
	Phone       string
	Code        string
	ExpiresIn   int
	ResendAfter int
}

// SendOTP issues a login code for phone. Delivery is the caller's concern.
func (a *App) SendOTP(ctx context.Context, phone string) (OTPChallenge, error) {
	phone, err := auth.NormalizePhone(phone)
	if err != nil {
		return OTPChallenge{}, ErrInvalidPhone
	}
	code, err := a.otp.Issue(ctx, phone)
	if err != nil {
		if errors.Is(err, store.ErrOTPSendRateLimited) {
			return OTPChallenge{}, ErrOTPRateLimited
		}
		return OTPChallenge{}, fmt.Errorf("issue otp: %w", err)
	}
	opts := a.otp.Options()
	return OTPChallenge{
		Phone:       phone,
		Code:        code,
		ExpiresIn:   int(opts.TTL.Seconds()),
		ResendAfter: int(opts.ResendAfter.Seconds()),
	}, nil
}

// Login verifies the code, registers the phone on first use and issues a
// bearer token.
func (a *App) Login(ctx context.Context, phone, code, fullName string) (domain.User, string, error) {
	phone, err := auth.NormalizePhone(phone)
	if err != nil {
		return domain.User{}, "", ErrInvalidPhone
	}
	if err := a.otp.Verify(ctx, phone, code); err != nil {
		switch {
		case errors.Is(err, store.ErrOTPCodeInvalid),
			errors.Is(err, store.ErrOTPCodeExpired),
			errors.Is(err, store.ErrOTPChallengeInvalid):
			return domain.User{}, "", ErrInvalidOTP
		default:
			return domain.User{}, "", fmt.Errorf("verify otp: %w", err)
		}
	}
	user, err := a.findOrRegister(phone, fullName)
	if err != nil {
		return domain.User{}, "", err
	}
	if !user.IsActive {
		return domain.User{}, "", ErrUserInactive
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue access token: %w", err)
	}
	return user, token, nil
}

func (a *App) findOrRegister(phone, fullName string) (domain.User, error) {
	user, ok, err := a.store.GetUserByPhone(phone)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if ok {
		return user, nil
	}
	fullName, err = cleanFullName(fullName)
	if err != nil {
		return domain.User{}, err
	}
	now := a.now().UTC()
	user = domain.User{
		ID:          util.NewID(),
		PhoneNumber: phone,
		FullName:    fullName,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveUser(user); err != nil {
		if !errors.Is(err, store.ErrUserPhoneExists) {
			return domain.User{}, fmt.Errorf("create user: %w", err)
		}
		// A concurrent login registered the phone first.
		existing, ok, err := a.store.GetUserByPhone(phone)
		if err != nil || !ok {
			return domain.User{}, fmt.Errorf("fetch user after conflict: %w", errors.Join(err, store.ErrUserPhoneExists))
		}
		return existing, nil
	}
	return user, nil
}

// UserFromToken resolves the active owner of a bearer token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found || !user.IsActive {
		return domain.User{}, false
	}
	return user, true
}

// Logout revokes the token until it would have expired.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// UpdateProfile changes the caller's display name.
func (a *App) UpdateProfile(user domain.User, fullName string) (domain.User, error) {
	fullName, err := cleanFullName(fullName)
	if err != nil {
		return domain.User{}, err
	}
	user.FullName = fullName
	user.UpdatedAt = a.now().UTC()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func cleanFullName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxFullNameRunes {
		return "", fmt.Errorf("%w: full_name exceeds %d characters", ErrInvalidProfile, maxFullNameRunes)
	}
	return name, nil
}
