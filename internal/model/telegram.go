package model

// TelegramUser is the user object Telegram embeds in WebApp init data and
// in bot updates. Only ID is guaranteed.
type TelegramUser struct {
	ID              int64  `json:"id"`
	IsBot           bool   `json:"is_bot,omitempty"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	Username        string `json:"username,omitempty"`
	LanguageCode    string `json:"language_code,omitempty"`
	IsPremium       bool   `json:"is_premium,omitempty"`
	AllowsWriteToPM bool   `json:"allows_write_to_pm,omitempty"`
	PhotoURL        string `json:"photo_url,omitempty"`
}

// DisplayFields converts the non-empty display fields into upsert params.
func (u *TelegramUser) DisplayFields() UpsertUserParams {
	p := UpsertUserParams{TelegramID: u.ID}
	if u.FirstName != "" {
		p.FirstName = &u.FirstName
	}
	if u.LastName != "" {
		p.LastName = &u.LastName
	}
	if u.Username != "" {
		p.Username = &u.Username
	}
	if u.LanguageCode != "" {
		p.LanguageCode = &u.LanguageCode
	}
	if u.IsPremium {
		premium := true
		p.IsPremium = &premium
	}
	return p
}
