package notify

import (
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// descriptionLimit is Discord's maximum embed description length.
const descriptionLimit = 4096

// Discord delivers notifications as embeds through a Discord bot.
type Discord struct {
	session   *discordgo.Session
	channelID string
	logger    *slog.Logger
}

// NewDiscord creates a Discord sink. channelID is the default
// destination used by SendNotification.
func NewDiscord(token, channelID string, logger *slog.Logger) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}, nil
}

// Init opens the gateway connection and logs in. A login failure here
// is fatal to startup.
func (d *Discord) Init() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord login: %w", err)
	}
	user := "unknown"
	if d.session.State != nil && d.session.State.User != nil {
		user = d.session.State.User.Username
	}
	d.logger.Info("discord bot logged in", "user", user)
	return nil
}

// Close shuts down the gateway connection.
func (d *Discord) Close() error {
	return d.session.Close()
}

// Send delivers a notification to the given channel.
func (d *Discord) Send(channelID string, n Notification) error {
	if channelID == "" {
		return fmt.Errorf("discord send: empty channel id")
	}
	if _, err := d.session.ChannelMessageSendEmbed(channelID, toEmbed(n)); err != nil {
		return fmt.Errorf("discord send to %s: %w", channelID, err)
	}
	return nil
}

// SendNotification delivers a notification to the default channel.
func (d *Discord) SendNotification(n Notification) error {
	return d.Send(d.channelID, n)
}

func toEmbed(n Notification) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(n.Fields))
	for _, f := range n.Fields {
		value := f.Value
		if value == "" {
			value = "N/A"
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  value,
			Inline: f.Inline,
		})
	}

	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: truncate(n.Description, descriptionLimit),
		Color:       n.Color,
		Fields:      fields,
		Timestamp:   ts.UTC().Format(time.RFC3339),
	}
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
