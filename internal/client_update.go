package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		if typedMessage.Type == tea.KeyCtrlC {
			model.coord.Close()
			model.conn.Disconnect()
			return model, tea.Quit
		}
		return model.updateKey(typedMessage)

	case activityMsg:
		model.clampRoomIndex()
		return model, model.waitForActivity()

	case sessionReadyMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.notice = typedMessage.err.Error()
			return model, nil
		}
		model.coord.UpdateStatus(true, "")
		return model, nil

	case authDoneMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.notice = "Login failed: " + typedMessage.err.Error()
			model.mode = modeAuthMenu
			model.textInput.Blur()
			return model, nil
		}
		if err := model.session.Set(typedMessage.session); err != nil {
			model.notice = "Could not persist session: " + err.Error()
		} else {
			model.notice = ""
		}
		model.username = typedMessage.session.Username
		model.mode = modeRooms
		model.loading = true
		model.textInput.Blur()
		return model, tea.Batch(model.startSessionCmd(), model.waitForActivity())

	case signupDoneMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.notice = "Signup failed: " + typedMessage.err.Error()
			model.mode = modeAuthMenu
			model.textInput.Blur()
			return model, nil
		}
		// account exists now, log in with the same credentials
		model.loading = true
		return model, model.loginCmd(model.username, model.pendingPassword)

	case actionErrMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.notice = typedMessage.err.Error()
		}
		return model, nil

	case roomCreatedMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.notice = typedMessage.err.Error()
			model.mode = modeRooms
			return model, nil
		}
		model.notice = fmt.Sprintf("Created room %q", typedMessage.room.Name)
		model.mode = modeRooms
		model.textInput.Blur()
		return model, nil

	case roomSearchMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.notice = typedMessage.err.Error()
			return model, nil
		}
		model.searchHits = typedMessage.hits
		return model, nil

	case financeLoadedMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.notice = typedMessage.err.Error()
			return model, nil
		}
		model.expenseMonth = typedMessage.month
		model.expenses = typedMessage.expenses
		model.budgetRows = typedMessage.budgets
		return model, nil

	case loggedOutMsg:
		model.loading = false
		model.notice = "Logged out."
		model.mode = modeAuthMenu
		model.textInput.Blur()
		return model, nil
	}
	return model, nil
}

func (model *TUIModel) updateKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch model.mode {
	case modeAuthMenu:
		return model.updateAuthMenu(key)
	case modeAuthUsername, modeAuthPassword:
		return model.updateAuthPrompt(key)
	case modeRooms:
		return model.updateRooms(key)
	case modeRoomCreate:
		return model.updateLinePrompt(key, func(value string) tea.Cmd {
			model.loading = true
			return model.createRoomCmd(value)
		})
	case modeRoomSearch:
		return model.updateLinePrompt(key, func(value string) tea.Cmd {
			model.loading = true
			return model.searchRoomsCmd(value)
		})
	case modeChat:
		return model.updateChat(key)
	case modeFinance:
		return model.updateFinance(key)
	case modeExpenseAdd:
		return model.updateLinePrompt(key, func(value string) tea.Cmd {
			model.loading = true
			model.mode = modeFinance
			return model.addExpenseCmd(value)
		})
	}
	return model, nil
}

func (model *TUIModel) updateAuthMenu(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "1", "l", "L":
		model.authIntent = authIntentLogin
		return model, model.promptFor(modeAuthUsername, "name> ", "Enter your username…")
	case "2", "s", "S":
		model.authIntent = authIntentSignup
		return model, model.promptFor(modeAuthUsername, "name> ", "Pick a username…")
	case "q", "Q", "esc":
		return model, tea.Quit
	}
	return model, nil
}

func (model *TUIModel) updateAuthPrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		model.mode = modeAuthMenu
		model.textInput.Blur()
		model.textInput.EchoMode = textinput.EchoNormal
		return model, nil
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			return model, nil
		}
		if model.mode == modeAuthUsername {
			model.username = trimmed
			cmd := model.promptFor(modeAuthPassword, "password> ", "")
			model.textInput.EchoMode = textinput.EchoPassword
			return model, cmd
		}
		model.pendingPassword = trimmed
		model.textInput.SetValue("")
		model.textInput.EchoMode = textinput.EchoNormal
		model.textInput.Blur()
		model.loading = true
		if model.authIntent == authIntentSignup {
			return model, model.signupCmd(model.username, trimmed)
		}
		return model, model.loginCmd(model.username, trimmed)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateRooms(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	rooms := model.visibleRooms()
	switch key.String() {
	case "up", "k":
		if model.roomIndex > 0 {
			model.roomIndex--
		}
		return model, nil
	case "down", "j":
		if model.roomIndex < len(rooms)-1 {
			model.roomIndex++
		}
		return model, nil
	case "enter":
		if model.roomIndex < len(rooms) {
			model.mode = modeChat
			model.notice = ""
			focusCmd := model.promptChatInput()
			return model, tea.Batch(focusCmd, model.openRoomCmd(rooms[model.roomIndex].ID))
		}
		return model, nil
	case "n", "N":
		return model, model.promptFor(modeRoomCreate, "room> ", "New room name…")
	case "/":
		model.searchHits = nil
		return model, model.promptFor(modeRoomSearch, "search> ", "Find rooms…")
	case "d", "D":
		if model.roomIndex < len(rooms) && model.coord.State().JoinedRoom(rooms[model.roomIndex].ID) {
			return model, model.leaveRoomCmd(rooms[model.roomIndex].ID)
		}
		return model, nil
	case "f", "F":
		model.mode = modeFinance
		model.loading = true
		return model, model.loadFinanceCmd()
	case "r", "R":
		model.loading = true
		return model, model.refreshCmd()
	case "o", "O":
		model.loading = true
		return model, model.logoutCmd()
	case "q", "Q":
		model.coord.Close()
		model.conn.Disconnect()
		return model, tea.Quit
	}
	return model, nil
}

func (model *TUIModel) updateChat(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		model.mode = modeRooms
		model.textInput.Blur()
		return model, model.closeRoomCmd()
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			return model, nil
		}
		if trimmed == "/leave" {
			model.mode = modeRooms
			model.textInput.Blur()
			roomID := model.coord.ActiveRoom()
			return model, model.leaveRoomCmd(roomID)
		}
		if trimmed == "/delete" {
			model.textInput.SetValue("")
			messageID := model.latestOwnMessageID()
			if messageID == "" {
				model.notice = "No message of yours to delete."
				return model, nil
			}
			return model, model.deleteMessageCmd(messageID)
		}
		if content, ok := strings.CutPrefix(trimmed, "/edit "); ok {
			model.textInput.SetValue("")
			messageID := model.latestOwnMessageID()
			if messageID == "" {
				model.notice = "No message of yours to edit."
				return model, nil
			}
			return model, model.editMessageCmd(messageID, content)
		}
		model.textInput.SetValue("")
		return model, model.sendMessageCmd(trimmed)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	if key.Type == tea.KeyRunes || key.Type == tea.KeySpace || key.Type == tea.KeyBackspace {
		model.coord.NotifyTyping()
	}
	return model, cmd
}

func (model *TUIModel) updateFinance(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "esc", "q", "Q":
		model.mode = modeRooms
		return model, nil
	case "a", "A":
		return model, model.promptFor(modeExpenseAdd, "expense> ", "category amount note…")
	case "r", "R":
		model.loading = true
		return model, model.loadFinanceCmd()
	}
	return model, nil
}

// updateLinePrompt handles the single-line input screens: Esc cancels back to
// the previous list, Enter submits through onSubmit.
func (model *TUIModel) updateLinePrompt(key tea.KeyMsg, onSubmit func(string) tea.Cmd) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		model.mode = modeRooms
		model.textInput.Blur()
		return model, nil
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			return model, nil
		}
		model.textInput.SetValue("")
		return model, onSubmit(trimmed)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) promptChatInput() tea.Cmd {
	model.textInput.SetValue("")
	model.textInput.Prompt = "> "
	model.textInput.Placeholder = "Type a message…"
	return model.textInput.Focus()
}

func (model *TUIModel) clampRoomIndex() {
	if count := len(model.visibleRooms()); model.roomIndex >= count && count > 0 {
		model.roomIndex = count - 1
	} else if count == 0 {
		model.roomIndex = 0
	}
}
