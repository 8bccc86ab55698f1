package internal

import (
	"errors"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"expenso/internal/storage"
)

type (
	activityMsg     struct{}
	sessionReadyMsg struct{ err error }
	authDoneMsg     struct {
		session SessionFile
		err     error
	}
	signupDoneMsg  struct{ err error }
	actionErrMsg   struct{ err error }
	roomCreatedMsg struct {
		room Room
		err  error
	}
	roomSearchMsg struct {
		hits []Room
		err  error
	}
	financeLoadedMsg struct {
		month    string
		expenses []storage.Expense
		budgets  []storage.BudgetStatusRow
		err      error
	}
	loggedOutMsg struct{}
)

// RunClient launches the Bubble Tea program against one server.
func RunClient(serverURL, username, sessionPath string) error {
	model, err := NewTUIModel(serverURL, username, sessionPath)
	if err != nil {
		return err
	}
	program := tea.NewProgram(model)
	_, err = program.Run()
	return err
}

// waitForActivity blocks on the coordinator's coalesced update signal and is
// re-issued after every activityMsg so the UI keeps re-rendering from fresh
// snapshots.
func (model *TUIModel) waitForActivity() tea.Cmd {
	updates := model.coord.Updates()
	return func() tea.Msg {
		<-updates
		return activityMsg{}
	}
}

// startSessionCmd connects the websocket and runs the coordinator's initial
// pull. Safe to call again after a logout/login cycle.
func (model *TUIModel) startSessionCmd() tea.Cmd {
	return func() tea.Msg {
		model.conn.Connect(model.ctx)
		if err := model.coord.Initialize(model.ctx); err != nil {
			return sessionReadyMsg{err: err}
		}
		return sessionReadyMsg{}
	}
}

func (model *TUIModel) loginCmd(username, password string) tea.Cmd {
	return func() tea.Msg {
		resp, err := apiLogin(model.ctx, model.http, model.httpBase, username, password)
		if err != nil {
			return authDoneMsg{err: err}
		}
		return authDoneMsg{session: SessionFile{
			Username: resp.Username,
			UserID:   resp.UserID,
			Token:    resp.Token,
		}}
	}
}

func (model *TUIModel) signupCmd(username, password string) tea.Cmd {
	return func() tea.Msg {
		if err := apiSignup(model.ctx, model.http, model.httpBase, username, password); err != nil {
			return signupDoneMsg{err: err}
		}
		return signupDoneMsg{}
	}
}

func (model *TUIModel) logoutCmd() tea.Cmd {
	return func() tea.Msg {
		token, _ := model.session.Token(model.ctx)
		if token != "" {
			_ = apiLogout(model.ctx, model.http, model.httpBase, token)
		}
		model.coord.UpdateStatus(false, "")
		model.coord.Close()
		model.conn.Disconnect()
		_ = model.session.Clear()
		return loggedOutMsg{}
	}
}

func (model *TUIModel) openRoomCmd(roomID string) tea.Cmd {
	return func() tea.Msg {
		if err := model.coord.JoinRoom(model.ctx, roomID); err != nil {
			return actionErrMsg{err: err}
		}
		if err := model.coord.SetActiveRoom(model.ctx, roomID); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) createRoomCmd(name string) tea.Cmd {
	return func() tea.Msg {
		room, err := model.coord.CreateRoom(model.ctx, name, "", false)
		if err != nil {
			return roomCreatedMsg{err: err}
		}
		return roomCreatedMsg{room: room}
	}
}

func (model *TUIModel) leaveRoomCmd(roomID string) tea.Cmd {
	return func() tea.Msg {
		if err := model.coord.LeaveRoom(model.ctx, roomID); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) searchRoomsCmd(query string) tea.Cmd {
	return func() tea.Msg {
		hits, err := model.coord.SearchRooms(model.ctx, query)
		return roomSearchMsg{hits: hits, err: err}
	}
}

func (model *TUIModel) sendMessageCmd(content string) tea.Cmd {
	return func() tea.Msg {
		if err := model.coord.SendMessage(content, ""); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) editMessageCmd(messageID, content string) tea.Cmd {
	return func() tea.Msg {
		if err := model.coord.EditMessage(model.ctx, messageID, content); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) deleteMessageCmd(messageID string) tea.Cmd {
	return func() tea.Msg {
		if err := model.coord.DeleteMessage(model.ctx, messageID); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) closeRoomCmd() tea.Cmd {
	return func() tea.Msg {
		if err := model.coord.SetActiveRoom(model.ctx, ""); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) loadFinanceCmd() tea.Cmd {
	month := time.Now().UTC().Format("2006-01")
	return func() tea.Msg {
		expenses, err := model.finance.ListExpenses(model.ctx, month)
		if err != nil {
			return financeLoadedMsg{month: month, err: err}
		}
		budgets, err := model.finance.BudgetStatus(model.ctx, month)
		if err != nil {
			return financeLoadedMsg{month: month, err: err}
		}
		return financeLoadedMsg{month: month, expenses: expenses, budgets: budgets}
	}
}

func (model *TUIModel) addExpenseCmd(input string) tea.Cmd {
	return func() tea.Msg {
		category, amountCents, note, err := parseExpenseInput(input)
		if err != nil {
			return actionErrMsg{err: err}
		}
		if _, err := model.finance.AddExpense(model.ctx, category, amountCents, note); err != nil {
			return actionErrMsg{err: err}
		}
		return model.loadFinanceCmd()()
	}
}

func (model *TUIModel) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		if err := model.coord.Initialize(model.ctx); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

var errBadExpenseInput = errors.New(`expected "category amount [note]", e.g. "food 12.50 lunch"`)

// parseExpenseInput splits "category amount [note...]" where amount is in
// whole currency units with optional decimals, e.g. "food 12.50 lunch".
func parseExpenseInput(input string) (category string, amountCents int64, note string, err error) {
	fields := strings.Fields(input)
	if len(fields) < 2 {
		return "", 0, "", errBadExpenseInput
	}
	category = fields[0]
	amountCents, err = parseAmountCents(fields[1])
	if err != nil {
		return "", 0, "", err
	}
	if len(fields) > 2 {
		note = strings.Join(fields[2:], " ")
	}
	return category, amountCents, note, nil
}

// parseAmountCents converts "12", "12.5", or "12.50" to integer cents.
func parseAmountCents(raw string) (int64, error) {
	whole, frac, hasFrac := strings.Cut(raw, ".")
	if whole == "" || len(frac) > 2 {
		return 0, errBadExpenseInput
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, errBadExpenseInput
	}
	cents := units * 100
	if hasFrac {
		for len(frac) < 2 {
			frac += "0"
		}
		sub, err := strconv.ParseInt(frac, 10, 64)
		if err != nil || sub < 0 {
			return 0, errBadExpenseInput
		}
		cents += sub
	}
	return cents, nil
}
