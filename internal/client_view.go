package internal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(1, 2).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	typingStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Italic(true)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	roomSelectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	roomItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	editedTagStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	overBudgetStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	underBudgetStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model *TUIModel) View() string {
	switch model.mode {
	case modeAuthMenu:
		return model.renderAuthMenuView()
	case modeAuthUsername, modeAuthPassword:
		return model.renderAuthPromptView()
	case modeRooms:
		return model.renderRoomsView()
	case modeRoomCreate:
		return model.renderPrompt("Create a room", "Enter a room name and press Enter.")
	case modeRoomSearch:
		return model.renderSearchView()
	case modeFinance:
		return model.renderFinanceView()
	case modeExpenseAdd:
		return model.renderPrompt("Add an expense", `Format: "category amount note", e.g. "food 12.50 lunch"`)
	default:
		return model.renderChatView()
	}
}

func (model *TUIModel) renderAuthMenuView() string {
	title := appTitleStyle.Render("Expenso")
	subtitle := subtitleStyle.Render("Track spending together, from your terminal")

	options := []string{
		renderMenuOption("1", "Log in"),
		renderMenuOption("2", "Sign up"),
		renderMenuOption("q", "Quit"),
	}

	viewSections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...)),
	}
	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Working…"))
	}
	if model.notice != "" {
		viewSections = append(viewSections, noticeBoxStyle.Render(systemMessageStyle.Render(model.notice)))
	}
	viewSections = append(viewSections, menuHintStyle.Render("1) Log in  •  2) Sign up  •  q) Quit"))
	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderAuthPromptView() string {
	title := "Log in"
	if model.authIntent == authIntentSignup {
		title = "Create an account"
	}
	hint := "Enter your username"
	if model.mode == modeAuthPassword {
		hint = "Enter your password"
	}
	return model.renderPrompt(title, hint)
}

func (model *TUIModel) renderPrompt(title, hint string) string {
	viewSections := []string{appTitleStyle.Render(title), menuHintStyle.Render(hint)}
	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Working…"))
	}
	if model.notice != "" {
		viewSections = append(viewSections, noticeBoxStyle.Render(systemMessageStyle.Render(model.notice)))
	}
	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))
	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderRoomsView() string {
	title := appTitleStyle.Render(fmt.Sprintf("Welcome, %s", model.username))
	subtitle := subtitleStyle.Render(model.connectionLine())

	viewSections := []string{title, subtitle}
	if online := model.presenceLine(); online != "" {
		viewSections = append(viewSections, online)
	}
	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Loading rooms…"))
	}
	if model.notice != "" {
		viewSections = append(viewSections, noticeBoxStyle.Render(systemMessageStyle.Render(model.notice)))
	}

	rooms := model.visibleRooms()
	var lines []string
	if len(rooms) == 0 {
		lines = append(lines, menuHintStyle.Render("No rooms yet. Press N to create one."))
	} else {
		for idx, room := range rooms {
			lines = append(lines, model.renderRoomLine(room, idx == model.roomIndex))
		}
	}
	viewSections = append(viewSections, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))

	hints := menuHintStyle.Render("↑/↓ select • Enter open • N new room • / search • D leave • F finances • R refresh • O logout • Q quit")
	viewSections = append(viewSections, hints)
	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderRoomLine(room Room, selected bool) string {
	marker := "  "
	joined := " "
	if model.coord.State().JoinedRoom(room.ID) {
		joined = "●"
	}
	line := fmt.Sprintf("%s%s %s (%d)", marker, joined, room.Name, room.MemberCount)
	if room.LastMessage != nil {
		preview := room.LastMessage.Content
		if len(preview) > 40 {
			preview = preview[:40] + "…"
		}
		line += timestampStyle.Render(fmt.Sprintf("  %s: %s", room.LastMessage.UserName, preview))
	}
	if selected {
		return roomSelectedStyle.Render("➤" + line[1:])
	}
	return roomItemStyle.Render(line)
}

func (model *TUIModel) renderSearchView() string {
	viewSections := []string{appTitleStyle.Render("Find rooms"), menuHintStyle.Render("Type a query and press Enter. Esc goes back.")}
	if len(model.searchHits) > 0 {
		var lines []string
		for _, room := range model.searchHits {
			lines = append(lines, roomItemStyle.Render(fmt.Sprintf("%s (%d members)", room.Name, room.MemberCount)))
		}
		viewSections = append(viewSections, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	}
	if model.notice != "" {
		viewSections = append(viewSections, noticeBoxStyle.Render(systemMessageStyle.Render(model.notice)))
	}
	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))
	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderChatView() string {
	snap := model.coord.State().Snapshot()
	roomID := model.coord.ActiveRoom()
	roomName := roomID
	if room, ok := snap.Rooms[roomID]; ok {
		roomName = room.Name
	}

	headerSegments := []string{"Expenso", fmt.Sprintf("Room %s", roomName), fmt.Sprintf("User %s", model.username)}
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	statusLine := model.connectionLine()

	var messageLines []string
	for _, msg := range snap.Messages[roomID] {
		messageLines = append(messageLines, model.renderChatMessage(msg))
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}
	messagesView := messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...))

	sections := []string{header, statusLine, messagesView}
	if typing := model.renderTypingLine(snap.Typing[roomID]); typing != "" {
		sections = append(sections, typing)
	}
	sections = append(sections, inputBoxStyle.Render(model.textInput.View()))
	sections = append(sections, menuHintStyle.Render("Esc back to rooms • /leave leave room • /edit <text> rewrite your last message • /delete remove it"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderTypingLine(users []TypingUser) string {
	var names []string
	for _, user := range users {
		if user.UserName == model.username {
			continue
		}
		names = append(names, user.UserName)
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return typingStyle.Render(names[0] + " is typing…")
	default:
		return typingStyle.Render(strings.Join(names, ", ") + " are typing…")
	}
}

func (model *TUIModel) renderChatMessage(msg Message) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", msg.CreatedAt.Local().Format("15:04:05")))

	var nameStyle lipgloss.Style
	if msg.UserName == model.username {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(msg.UserName))
	}
	name := nameStyle.Render(msg.UserName)
	bodyText := messageBodyStyle.Render(strings.ReplaceAll(msg.Content, "\n", "\n   "))

	line := lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, ": ", bodyText)
	if msg.IsEdited {
		line = lipgloss.JoinHorizontal(lipgloss.Left, line, " ", editedTagStyle.Render("(edited)"))
	}
	return line
}

func (model *TUIModel) renderFinanceView() string {
	title := appTitleStyle.Render("Finances")
	subtitle := subtitleStyle.Render(fmt.Sprintf("Month %s", model.expenseMonth))

	viewSections := []string{title, subtitle}
	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Loading…"))
	}
	if model.notice != "" {
		viewSections = append(viewSections, noticeBoxStyle.Render(systemMessageStyle.Render(model.notice)))
	}

	var budgetLines []string
	for _, row := range model.budgetRows {
		line := fmt.Sprintf("%-12s %s / %s", row.Category, formatCents(row.SpentCents), formatCents(row.LimitCents))
		if row.SpentCents > row.LimitCents {
			budgetLines = append(budgetLines, overBudgetStyle.Render(line+"  over budget"))
		} else {
			budgetLines = append(budgetLines, underBudgetStyle.Render(line))
		}
	}
	if len(budgetLines) == 0 {
		budgetLines = append(budgetLines, menuHintStyle.Render("No budgets set."))
	}
	viewSections = append(viewSections, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, budgetLines...)))

	var expenseLines []string
	var total int64
	for _, expense := range model.expenses {
		total += expense.AmountCents
		line := fmt.Sprintf("%s  %-12s %8s", expense.IncurredAt.Format("Jan 02"), expense.Category, formatCents(expense.AmountCents))
		if expense.Note != "" {
			line += timestampStyle.Render("  " + expense.Note)
		}
		expenseLines = append(expenseLines, roomItemStyle.Render(line))
	}
	if len(expenseLines) == 0 {
		expenseLines = append(expenseLines, menuHintStyle.Render("No expenses this month."))
	} else {
		expenseLines = append(expenseLines, timestampStyle.Render(fmt.Sprintf("Total %s", formatCents(total))))
	}
	viewSections = append(viewSections, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, expenseLines...)))

	viewSections = append(viewSections, menuHintStyle.Render("A add expense • R refresh • Esc back"))
	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

// presenceLine lists everyone else the server reports online.
func (model *TUIModel) presenceLine() string {
	snap := model.coord.State().Snapshot()
	var names []string
	for _, status := range snap.Online {
		if status.Username == "" || status.Username == model.username {
			continue
		}
		names = append(names, status.Username)
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return typingStyle.Render("Online: " + strings.Join(names, ", "))
}

func (model *TUIModel) connectionLine() string {
	switch model.conn.State() {
	case ConnConnected:
		return connectedStyle.Render("Connected")
	case ConnConnecting:
		return connectingStyle.Render("Connecting…")
	default:
		if model.loggedIn() {
			return errorStyle.Render("Disconnected")
		}
		return statusStyle.Render("Logged out")
	}
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

func colorForUser(name string) lipgloss.Color {
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
