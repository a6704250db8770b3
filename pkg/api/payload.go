package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/perchlabs/roost/pkg/types"
)

// settingsPayload is the wire form of the single settings row
type settingsPayload struct {
	MaxFollowsPerDay      int     `json:"max_follows_per_day"`
	MaxFollowsPerInterval int     `json:"max_follows_per_interval"`
	IntervalMinutes       int     `json:"interval_minutes"`
	MinFollowing          int     `json:"min_following"`
	MaxFollowing          int     `json:"max_following"`
	ScheduleGroups        int     `json:"schedule_groups"`
	ScheduleHours         int     `json:"schedule_hours"`
	InternalRatio         float64 `json:"internal_ratio"`
	ExternalRatio         float64 `json:"external_ratio"`
	Active                bool    `json:"is_active"`
}

func settingsToPayload(settings *types.Settings) settingsPayload {
	return settingsPayload{
		MaxFollowsPerDay:      settings.MaxFollowsPerDay,
		MaxFollowsPerInterval: settings.MaxFollowsPerInterval,
		IntervalMinutes:       settings.IntervalMinutes,
		MinFollowing:          settings.MinFollowing,
		MaxFollowing:          settings.MaxFollowing,
		ScheduleGroups:        settings.ScheduleGroups,
		ScheduleHours:         settings.ScheduleHours,
		InternalRatio:         settings.InternalRatio,
		ExternalRatio:         settings.ExternalRatio,
		Active:                settings.Active,
	}
}

func (p settingsPayload) toSettings() *types.Settings {
	return &types.Settings{
		MaxFollowsPerDay:      p.MaxFollowsPerDay,
		MaxFollowsPerInterval: p.MaxFollowsPerInterval,
		IntervalMinutes:       p.IntervalMinutes,
		MinFollowing:          p.MinFollowing,
		MaxFollowing:          p.MaxFollowing,
		ScheduleGroups:        p.ScheduleGroups,
		ScheduleHours:         p.ScheduleHours,
		InternalRatio:         p.InternalRatio,
		ExternalRatio:         p.ExternalRatio,
		Active:                p.Active,
	}
}

// accountPayload registers a new worker account
type accountPayload struct {
	Number      int64              `json:"number"`
	Handle      string             `json:"handle"`
	Credentials credentialsPayload `json:"credentials"`
	Proxy       *proxyPayload      `json:"proxy,omitempty"`
}

type credentialsPayload struct {
	AuthToken      string `json:"auth_token"`
	CSRFToken      string `json:"csrf_token"`
	UserAgent      string `json:"user_agent"`
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	Bearer         string `json:"bearer"`
	AccessToken    string `json:"access_token"`
	AccessSecret   string `json:"access_secret"`
}

type proxyPayload struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (p accountPayload) toAccount() (*types.Account, error) {
	if p.Handle == "" {
		return nil, fmt.Errorf("account handle is required")
	}

	account := &types.Account{
		ID:        uuid.New().String(),
		Number:    p.Number,
		Handle:    p.Handle,
		CreatedAt: time.Now().UTC(),
		Credentials: &types.Credentials{
			AuthToken:      p.Credentials.AuthToken,
			CSRFToken:      p.Credentials.CSRFToken,
			UserAgent:      p.Credentials.UserAgent,
			ConsumerKey:    p.Credentials.ConsumerKey,
			ConsumerSecret: p.Credentials.ConsumerSecret,
			Bearer:         p.Credentials.Bearer,
			AccessToken:    p.Credentials.AccessToken,
			AccessSecret:   p.Credentials.AccessSecret,
		},
	}
	if !account.HasCredentials() {
		return nil, fmt.Errorf("account %s is missing session or oauth credentials", p.Handle)
	}

	if p.Proxy != nil {
		proxy := &types.ProxyConfig{
			Host:     p.Proxy.Host,
			Port:     p.Proxy.Port,
			Username: p.Proxy.Username,
			Password: p.Proxy.Password,
		}
		if err := proxy.Validate(); err != nil {
			return nil, fmt.Errorf("invalid proxy for %s: %w", p.Handle, err)
		}
		account.Proxy = proxy
	}
	return account, nil
}

// accountView is the list form of an account; credentials never leave the node
type accountView struct {
	ID                   string     `json:"id"`
	Number               int64      `json:"number"`
	Handle               string     `json:"handle"`
	Active               bool       `json:"active"`
	HasProxy             bool       `json:"has_proxy"`
	DailyFollows         int        `json:"daily_follows"`
	TotalFollows         int        `json:"total_follows"`
	FollowingCount       int        `json:"following_count"`
	FailedFollowAttempts int        `json:"failed_follow_attempts"`
	LastFollowedAt       *time.Time `json:"last_followed_at,omitempty"`
	RateLimitUntil       *time.Time `json:"rate_limit_until,omitempty"`
	Group                *int       `json:"group,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

func accountToView(account *types.Account) accountView {
	view := accountView{
		ID:                   account.ID,
		Number:               account.Number,
		Handle:               account.Handle,
		Active:               account.Active,
		HasProxy:             account.Proxy != nil,
		DailyFollows:         account.DailyFollows,
		TotalFollows:         account.TotalFollows,
		FollowingCount:       account.FollowingCount,
		FailedFollowAttempts: account.FailedFollowAttempts,
		LastFollowedAt:       account.LastFollowedAt,
		RateLimitUntil:       account.RateLimitUntil,
		CreatedAt:            account.CreatedAt,
	}
	if account.Group != nil {
		group := account.Group.Group
		view.Group = &group
	}
	return view
}

type targetView struct {
	ID         string    `json:"id"`
	Handle     string    `json:"handle"`
	Pool       string    `json:"pool"`
	AccountID  string    `json:"account_id,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func targetToView(target *types.FollowTarget) targetView {
	return targetView{
		ID:         target.ID,
		Handle:     target.Handle,
		Pool:       string(target.Pool),
		AccountID:  target.AccountID,
		UploadedAt: target.UploadedAt,
	}
}

type statsView struct {
	Running          bool           `json:"running"`
	ActiveGroup      int            `json:"active_group"`
	NextRotation     *time.Time     `json:"next_rotation,omitempty"`
	Accounts         int            `json:"accounts"`
	ActiveAccounts   int            `json:"active_accounts"`
	FollowsToday     int            `json:"follows_today"`
	FollowsTotal     int            `json:"follows_total"`
	InternalTargets  int            `json:"internal_targets"`
	ExternalTargets  int            `json:"external_targets"`
	ProgressByStatus map[string]int `json:"progress_by_status"`
}

type eventView struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
