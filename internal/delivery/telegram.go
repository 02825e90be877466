package delivery

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v3"
)

// TelegramSender messages drivers that linked a Telegram chat.
type TelegramSender struct {
	bot *tele.Bot
}

// NewTelegramSender builds an offline bot (no getMe on start). apiURL may be
// empty for the public Bot API. timeout caps each Bot API call; telebot does
// not take a context, so this is the only bound on a send.
func NewTelegramSender(token, apiURL string, timeout time.Duration) (*TelegramSender, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     apiURL,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b}, nil
}

func (t *TelegramSender) Channel() string { return ChannelTelegram }

func (t *TelegramSender) Send(ctx context.Context, m Message) (Result, error) {
	if m.TelegramChatID == nil {
		return Result{}, ErrNoRecipient
	}
	res := Result{Channel: ChannelTelegram}
	type sent struct {
		msg *tele.Message
		err error
	}
	done := make(chan sent, 1)
	go func() {
		msg, err := t.bot.Send(tele.ChatID(*m.TelegramChatID), m.Body)
		done <- sent{msg, err}
	}()
	var (
		msg *tele.Message
		err error
	)
	select {
	case r := <-done:
		msg, err = r.msg, r.err
	case <-ctx.Done():
		// the call itself ends at the client timeout
		err = ctx.Err()
	}
	if err != nil {
		res.StatusCode = http.StatusBadGateway
		var apiErr *tele.Error
		if errors.As(err, &apiErr) && apiErr.Code != 0 {
			res.StatusCode = apiErr.Code
		}
		res.Payload = rawJSON([]byte(err.Error()))
		return res, err
	}
	res.StatusCode = http.StatusOK
	res.ProviderID = strconv.Itoa(msg.ID)
	res.Payload = rawJSON([]byte(`{"message_id":` + res.ProviderID + `}`))
	return res, nil
}
