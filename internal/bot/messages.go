package bot

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tbourn/go-support-desk/internal/domain"
	"github.com/tbourn/go-support-desk/internal/services"
	"github.com/tbourn/go-support-desk/internal/utils"
)

// ResponsePrefix heads every operator reply delivered to a user.
const ResponsePrefix = "💬 Support Team Response:"

// callbackCategory prefixes the category keyboard's callback data.
const callbackCategory = "cat:"

const (
	textAcknowledged  = "✅ Message sent to support team!\nWe'll respond shortly."
	textPickCategory  = "Please choose a support category first:"
	textTryLater      = "⚠️ Something went wrong on our side. Please try again in a moment."
	textTooLong       = "❌ Your message is too long. Please split it into shorter messages."
	textAdminsOnly    = "❌ This command is only for admins."
	textNoActiveChat  = "You don't have an active support chat."
	textChatEnded     = "✅ Support chat ended.\nType /start to return to the main menu."
	textTicketClosed  = "✅ Support ticket has been closed.\nThank you for contacting us!\n\nType /start to return to the main menu."
	textNoTickets     = "📭 No active support tickets."
	textUnknownOption = "Unknown option selected."
	textUnknownCmd    = "Unknown command. Type /start to see the menu."
	textAdminHint     = "💡 Use /reply <ticket_id> <message> to answer a ticket.\nUse /tickets to see open tickets."
	textReplyUsage    = "❌ Usage: /reply <ticket_id> <message>"
	textCloseUsage    = "❌ Usage: /close <ticket_id>"
	textWalletUsage   = "❌ Usage: /wallet <address>"
	textWalletTooLong = "❌ Wallet value is too long."
	textWalletSaved   = "✅ Wallet saved to your ticket."
)

// categoryKeyboard renders one button per category.
func categoryKeyboard() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(c.Name, callbackCategory+c.Slug),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func welcomeText(first string) string {
	if first == "" {
		first = "there"
	}
	return "👋 Welcome " + first + "!\n\nHow can we help you today? Choose a support category below."
}

func adminNotConfiguredText(id int64) string {
	return fmt.Sprintf("⚠️ Admin not configured yet!\n\nYour User ID: %d\n\nIf you're the admin, set ADMIN_ID to this value and restart the bot.", id)
}

func newUserNotice(u *domain.User, at time.Time) string {
	var b strings.Builder
	b.WriteString("🆕 New User Started Bot\n\n")
	fmt.Fprintf(&b, "👤 Name: %s\n", strings.TrimSpace(u.FirstName+" "+u.LastName))
	fmt.Fprintf(&b, "🆔 ID: %d\n", u.ID)
	fmt.Fprintf(&b, "📱 Username: %s\n", handleOrNone(u.Handle))
	fmt.Fprintf(&b, "🕐 Time: %s", at.UTC().Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}

func chatActivatedText(c domain.Category) string {
	return "💬 Support Chat Activated!\n\n📂 Category: " + c.Name +
		"\n\nYou can now send messages and our team will respond.\nType /stop to end the conversation."
}

func userActionNotice(u *domain.User, c domain.Category) string {
	return fmt.Sprintf("🔔 User Action\n\n👤 %s\n🆔 ID: %d\n✨ Selected: %s", u.DisplayName(), u.ID, c.Name)
}

// inboundNotice tells the admin about a user message; the first message of
// a ticket is announced as a new ticket.
func inboundNotice(u *domain.User, t *domain.Ticket, text string) string {
	var b strings.Builder
	if t.MessageCount <= 1 {
		fmt.Fprintf(&b, "🆕 NEW SUPPORT TICKET #%d\n\n", t.ID)
		fmt.Fprintf(&b, "👤 User: %s\n🆔 ID: %d\n📂 Category: %s\n", u.DisplayName(), u.ID, t.Category)
	} else {
		fmt.Fprintf(&b, "💬 Message from %s (ID: %d)\n", u.DisplayName(), u.ID)
		fmt.Fprintf(&b, "🎫 Ticket #%d · %s\n", t.ID, t.Category)
	}
	if t.WalletMeta != "" {
		fmt.Fprintf(&b, "💳 Wallet: %s\n", t.WalletMeta)
	}
	fmt.Fprintf(&b, "\n💭 %q\n\n💡 Reply with: /reply %d your message", text, t.ID)
	return b.String()
}

func chatEndedNotice(u *domain.User, t *domain.Ticket) string {
	s := fmt.Sprintf("🔚 User ended support chat\n\n👤 %s\n🆔 ID: %d", u.DisplayName(), u.ID)
	if t != nil {
		s += fmt.Sprintf("\n🎫 Ticket #%d closed", t.ID)
	}
	return s
}

func myIDText(from *tgbotapi.User) string {
	return fmt.Sprintf("👤 Your Telegram Info:\n\n🆔 User ID: %d\n👤 Name: %s\n📱 Username: %s",
		from.ID, strings.TrimSpace(from.FirstName+" "+from.LastName), handleOrNone(from.UserName))
}

// ticketLine is one entry of the admin /tickets listing.
func ticketLine(t domain.Ticket, who string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d · %s\n", t.ID, t.Category)
	fmt.Fprintf(&b, "👤 %s\n", who)
	fmt.Fprintf(&b, "💬 Messages: %d\n", t.MessageCount)
	if t.LastPreview != "" {
		fmt.Fprintf(&b, "📝 %s\n", t.LastPreview)
	}
	fmt.Fprintf(&b, "⚡ /reply %d message · 🔒 /close %d\n", t.ID, t.ID)
	return b.String()
}

func statsText(st *services.Stats) string {
	var b strings.Builder
	b.WriteString("📊 Bot Statistics\n\n")
	fmt.Fprintf(&b, "👥 Users with tickets: %d\n", st.DistinctUserCount)
	fmt.Fprintf(&b, "🎫 Active Tickets: %d\n", st.OpenCount)
	fmt.Fprintf(&b, "✅ Closed Tickets: %d\n", st.ClosedCount)
	b.WriteString("\n📂 Open by category:\n")
	for _, c := range domain.Categories {
		fmt.Fprintf(&b, "• %s: %d\n", c.Name, st.ByCategory[c.Name])
	}
	return strings.TrimRight(b.String(), "\n")
}

func handleOrNone(h string) string {
	if h == "" {
		return "none"
	}
	return "@" + h
}

// maxMessageUnits is Telegram's limit for one text message. Telegram counts
// UTF-16 code units, not runes.
const maxMessageUnits = 4096

// deliveryTexts renders an operator reply as one or more Telegram messages;
// only the first carries ResponsePrefix.
func deliveryTexts(m domain.Message) []string {
	return splitMessage(ResponsePrefix+"\n\n"+m.Text, maxMessageUnits)
}

// splitMessage cuts s into pieces of at most limit UTF-16 code units. A
// piece ends after the last newline or space in its second half when there
// is one, otherwise at the limit.
func splitMessage(s string, limit int) []string {
	var out []string
	for s != "" {
		units, cut, soft := 0, len(s), -1
		for i, r := range s {
			n := utf16.RuneLen(r)
			if n < 0 {
				n = 1
			}
			if units+n > limit {
				cut = i
				break
			}
			units += n
			if (r == '\n' || r == ' ') && units > limit/2 {
				soft = i + 1
			}
		}
		if cut < len(s) && soft > 0 {
			cut = soft
		}
		if piece := strings.TrimRight(s[:cut], " \n"); piece != "" {
			out = append(out, piece)
		}
		s = strings.TrimLeft(s[cut:], " \n")
	}
	return out
}

// parseTicketArgs splits "<ticket_id> [rest]" command arguments.
func parseTicketArgs(args string) (int64, string, bool) {
	args = strings.TrimSpace(args)
	idPart, rest := args, ""
	if i := strings.IndexAny(args, " \t\n"); i >= 0 {
		idPart, rest = args[:i], strings.TrimSpace(args[i+1:])
	}
	id, ok := utils.ParseID(idPart)
	if !ok {
		return 0, "", false
	}
	return id, rest, true
}
