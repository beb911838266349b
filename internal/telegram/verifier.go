package telegram

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/navigapp/navigapp-server-go/internal/config"
	"github.com/navigapp/navigapp-server-go/internal/model"
	"github.com/navigapp/navigapp-server-go/internal/util"
)

// webAppDataKey is the fixed key Telegram uses to derive the WebApp secret from the bot token.
const webAppDataKey = "WebAppData"

// Identity is the user a verified init data payload vouches for.
type Identity struct {
	User       model.TelegramUser
	AuthDate   time.Time
	QueryID    string
	StartParam string
	Demo       bool
}

// Verifier checks Telegram WebApp init data signatures. Verify never explains
// a rejection to its caller; the reason is only logged at debug level.
type Verifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
	demo   bool
}

type VerifierOption func(*Verifier)

func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

func WithMaxAge(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.maxAge = d }
}

// WithDemoIdentity enables the demo sentinel. It has no effect unless the
// binary was built with the demo tag.
func WithDemoIdentity(enabled bool) VerifierOption {
	return func(v *Verifier) { v.demo = enabled }
}

func NewVerifier(botToken string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		secret: secretKey(botToken),
		maxAge: config.InitDataMaxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func secretKey(botToken string) []byte {
	return util.HmacSHA256Raw([]byte(webAppDataKey), []byte(botToken))
}

func (v *Verifier) Verify(initData string) (*Identity, bool) {
	if v.demo && demoBuild && initData == DemoInitData {
		log.Warn().Msg("demo identity accepted")
		return demoIdentity(v.now()), true
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return reject("unparseable")
	}

	hash := values.Get("hash")
	if hash == "" {
		return reject("missing hash")
	}

	expected := util.HmacSHA256(v.secret, DataCheckString(values))
	if !util.ConstantTimeEqual(expected, strings.ToLower(hash)) {
		return reject("signature mismatch")
	}

	authUnix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil || authUnix <= 0 {
		return reject("missing auth_date")
	}
	authDate := time.Unix(authUnix, 0)
	if v.now().Sub(authDate) > v.maxAge {
		return reject("stale")
	}

	var user model.TelegramUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil {
		return reject("malformed user")
	}
	if user.ID <= 0 {
		return reject("missing user id")
	}

	return &Identity{
		User:       user,
		AuthDate:   authDate,
		QueryID:    values.Get("query_id"),
		StartParam: values.Get("start_param"),
	}, true
}

func reject(reason string) (*Identity, bool) {
	log.Debug().Str("reason", reason).Msg("init data rejected")
	return nil, false
}

// DataCheckString joins every field except hash as sorted key=value lines.
func DataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}
	return strings.Join(lines, "\n")
}

// Sign adds a valid hash to values for the given bot token and returns the
// encoded init data. Used by tests and local tooling.
func Sign(botToken string, values url.Values) string {
	signed := url.Values{}
	for k, vs := range values {
		if k != "hash" {
			signed[k] = vs
		}
	}
	signed.Set("hash", util.HmacSHA256(secretKey(botToken), DataCheckString(signed)))
	return signed.Encode()
}
