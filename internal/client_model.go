package internal

import (
	"context"
	"net/http"
	"os"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"expenso/internal/storage"
)

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthUsername
	modeAuthPassword
	modeRooms
	modeRoomCreate
	modeRoomSearch
	modeChat
	modeFinance
	modeExpenseAdd
)

type authIntentType int

const (
	authIntentLogin authIntentType = iota
	authIntentSignup
)

// TUIModel holds every screen of the terminal client. The realtime pieces
// (connection manager, coordinator, snapshot store) are built once and shared
// across mode switches.
type TUIModel struct {
	ctx       context.Context
	serverURL string
	httpBase  string
	username  string

	session *SessionStore
	conn    *ConnectionManager
	coord   *Coordinator
	finance *FinanceAPI
	http    *http.Client

	textInput       textinput.Model
	mode            appMode
	authIntent      authIntentType
	pendingPassword string
	loading         bool
	notice          string

	roomIndex    int
	roomIDs      []string
	searchHits   []Room
	expenses     []storage.Expense
	budgetRows   []storage.BudgetStatusRow
	expenseMonth string
}

// NewTUIModel wires the client stack for one server. sessionPath may be empty
// to keep the login in memory only.
func NewTUIModel(serverURL, username, sessionPath string) (*TUIModel, error) {
	httpBase, err := httpBaseFromWSURL(serverURL)
	if err != nil {
		return nil, err
	}

	session := NewSessionStore(sessionPath)
	conn := NewConnectionManager(serverURL, session)
	dir := NewHTTPDirectory(httpBase, session)
	coord := NewCoordinator(conn, dir, NewRoomState(), session)

	input := textinput.New()
	input.CharLimit = 0
	input.Prompt = "> "

	if username == "" {
		username = defaultUsername()
	}
	if current := session.Current(); current != nil {
		username = current.Username
	}

	return &TUIModel{
		ctx:       context.Background(),
		serverURL: serverURL,
		httpBase:  httpBase,
		username:  username,
		session:   session,
		conn:      conn,
		coord:     coord,
		finance:   NewFinanceAPI(httpBase, session),
		http:      &http.Client{Timeout: httpTimeout},
		textInput: input,
		mode:      modeAuthMenu,
	}, nil
}

func defaultUsername() string {
	if user := os.Getenv("EXPENSO_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}

func (model *TUIModel) Init() tea.Cmd {
	if model.session.Current() != nil {
		// a persisted session skips the login screens
		model.mode = modeRooms
		model.loading = true
		return tea.Batch(model.startSessionCmd(), model.waitForActivity())
	}
	return nil
}

// loggedIn reports whether a session token is available.
func (model *TUIModel) loggedIn() bool {
	return model.session.Current() != nil
}

// visibleRooms orders the snapshot's rooms with joined rooms first so the
// selection index is stable across re-renders.
func (model *TUIModel) visibleRooms() []Room {
	snap := model.coord.State().Snapshot()
	joined := make([]Room, 0, len(snap.Rooms))
	others := make([]Room, 0, len(snap.Rooms))
	for _, id := range sortedRoomIDs(snap) {
		room := snap.Rooms[id]
		if _, ok := snap.Joined[id]; ok {
			joined = append(joined, room)
		} else {
			others = append(others, room)
		}
	}
	return append(joined, others...)
}

// latestOwnMessageID finds the local user's most recent message in the active
// room; /edit and /delete act on it.
func (model *TUIModel) latestOwnMessageID() string {
	snap := model.coord.State().Snapshot()
	msgs := snap.Messages[model.coord.ActiveRoom()]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].UserName == model.username {
			return msgs[i].ID
		}
	}
	return ""
}

func sortedRoomIDs(snap *Snapshot) []string {
	ids := make([]string, 0, len(snap.Rooms))
	for id := range snap.Rooms {
		ids = append(ids, id)
	}
	// newest room first, matching the server's list order
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && snap.Rooms[ids[j]].CreatedAt.After(snap.Rooms[ids[j-1]].CreatedAt); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

func (model *TUIModel) promptFor(mode appMode, prompt, placeholder string) tea.Cmd {
	model.mode = mode
	model.textInput.SetValue("")
	model.textInput.Prompt = prompt
	model.textInput.Placeholder = placeholder
	model.textInput.EchoMode = textinput.EchoNormal
	return model.textInput.Focus()
}
