package telegram

import (
	"encoding/json"
	"fmt"
	"io"
)

// SecretHeader carries the webhook secret on every webhook delivery.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// DecodeUpdate reads one webhook update.
func DecodeUpdate(body io.Reader) (*Update, error) {
	var u Update
	if err := json.NewDecoder(body).Decode(&u); err != nil {
		return nil, fmt.Errorf("telegram: decode update: %w", err)
	}
	return &u, nil
}
