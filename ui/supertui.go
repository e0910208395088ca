package ui

import (
	"fmt"
	"log"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/ui/common"
	"github.com/deemkeen/mammut/ui/createuser"
	"github.com/deemkeen/mammut/ui/federation"
	"github.com/deemkeen/mammut/ui/followers"
	"github.com/deemkeen/mammut/ui/following"
	"github.com/deemkeen/mammut/ui/followuser"
	"github.com/deemkeen/mammut/ui/header"
	"github.com/deemkeen/mammut/ui/listnotes"
	"github.com/deemkeen/mammut/ui/timeline"
	"github.com/deemkeen/mammut/ui/writenote"
	"github.com/deemkeen/mammut/util"
)

var (
	modelStyle = lipgloss.NewStyle().
			Align(lipgloss.Top, lipgloss.Top).
			BorderStyle(lipgloss.HiddenBorder()).MarginLeft(1)
	focusedModelStyle = lipgloss.NewStyle().
				Align(lipgloss.Top, lipgloss.Top).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color(common.COLOR_LIGHTBLUE)).MarginLeft(1)
)

type MainModel struct {
	width           int
	height          int
	headerModel     header.Model
	account         domain.Account
	state           common.SessionState
	newUserModel    createuser.Model
	createModel     writenote.Model
	listModel       listnotes.Model
	timelineModel   timeline.Model
	followModel     followuser.Model
	followersModel  followers.Model
	followingModel  following.Model
	federationModel federation.Model
}

func updateUserModelCmd(acc *domain.Account) tea.Cmd {
	return func() tea.Msg {
		acc.FirstTimeLogin = domain.FALSE
		err := db.GetDB().UpdateLoginByPkHash(acc.Username, util.PkToHash(acc.Publickey))
		if err != nil {
			log.Println(fmt.Sprintf("User %s could not be updated!", acc.Username))
		}
		return nil
	}
}

func NewModel(acc domain.Account, width int, height int) MainModel {
	width = common.DefaultWindowWidth(width)
	height = common.DefaultWindowHeight(height)

	m := MainModel{state: common.CreateUserView}
	m.newUserModel = createuser.InitialModel()
	m.createModel = writenote.InitialNote(width, acc.Id)
	m.listModel = listnotes.InitialModel(acc.Id, width, height)
	m.timelineModel = timeline.InitialModel(acc.Id, width, height)
	m.followModel = followuser.InitialModel(acc.Id)
	m.followersModel = followers.InitialModel(acc.Id, width, height)
	m.followingModel = following.InitialModel(acc.Id, width, height)
	m.federationModel = federation.InitialModel(width, height)
	m.headerModel = header.Model{Width: width, Acc: &acc}
	m.account = acc
	m.width = width
	m.height = height
	return m
}

func (m MainModel) Init() tea.Cmd {
	var cmds []tea.Cmd

	cmds = append(cmds, m.listModel.Init())

	if m.account.FirstTimeLogin == domain.TRUE {
		cmds = append(cmds, func() tea.Msg {
			return common.CreateUserView
		})
	} else {
		cmds = append(cmds, func() tea.Msg {
			return common.CreateNoteView
		})
	}

	return tea.Batch(cmds...)
}

func getViewInitCmd(state common.SessionState, m *MainModel) tea.Cmd {
	switch state {
	case common.ListNotesView:
		return m.listModel.Init()
	case common.TimelineView:
		return m.timelineModel.Init()
	case common.FollowersView:
		return m.followersModel.Init()
	case common.FollowingView:
		return m.followingModel.Init()
	case common.FederationView:
		return m.federationModel.Init()
	}
	return nil
}

func (m MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.headerModel.Width = msg.Width
		return m, nil

	case common.SessionState:
		switch msg {
		case common.UpdateNoteList:
			m.listModel = listnotes.InitialModel(m.account.Id, m.width, m.height)
			return m, m.listModel.Init()
		default:
			m.state = msg
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			if m.state == common.CreateUserView {
				return m, nil
			}
			oldState := m.state
			switch m.state {
			case common.CreateNoteView:
				m.state = common.ListNotesView
			case common.ListNotesView:
				m.state = common.TimelineView
			case common.TimelineView:
				m.state = common.FollowUserView
			case common.FollowUserView:
				m.state = common.FollowersView
			case common.FollowersView:
				m.state = common.FollowingView
			case common.FollowingView:
				m.state = common.FederationView
			case common.FederationView:
				m.state = common.CreateNoteView
			}
			if oldState != m.state {
				cmds = append(cmds, getViewInitCmd(m.state, &m))
			}
		case "shift+tab":
			if m.state == common.CreateUserView {
				return m, nil
			}
			oldState := m.state
			switch m.state {
			case common.CreateNoteView:
				m.state = common.FederationView
			case common.ListNotesView:
				m.state = common.CreateNoteView
			case common.TimelineView:
				m.state = common.ListNotesView
			case common.FollowUserView:
				m.state = common.TimelineView
			case common.FollowersView:
				m.state = common.FollowUserView
			case common.FollowingView:
				m.state = common.FollowersView
			case common.FederationView:
				m.state = common.FollowingView
			}
			if oldState != m.state {
				cmds = append(cmds, getViewInitCmd(m.state, &m))
			}
		case "enter":
			if m.state == common.CreateUserView {
				m.state = common.CreateNoteView
				m.account.Username = m.newUserModel.TextInput.Value()
				m.headerModel = header.Model{Width: m.width, Acc: &m.account}
				return m, updateUserModelCmd(&m.account)
			}
		}
	}

	// Data messages go to every sub-model so loads finish no matter
	// which pane currently has focus. Keystrokes only reach the
	// focused pane below.
	if _, isKeyMsg := msg.(tea.KeyMsg); !isKeyMsg {
		m.headerModel, _ = m.headerModel.Update(msg)
		m.listModel, cmd = m.listModel.Update(msg)
		cmds = append(cmds, cmd)
		m.timelineModel, cmd = m.timelineModel.Update(msg)
		cmds = append(cmds, cmd)
		m.followModel, cmd = m.followModel.Update(msg)
		cmds = append(cmds, cmd)
		m.followersModel, cmd = m.followersModel.Update(msg)
		cmds = append(cmds, cmd)
		m.followingModel, cmd = m.followingModel.Update(msg)
		cmds = append(cmds, cmd)
		m.federationModel, cmd = m.federationModel.Update(msg)
		cmds = append(cmds, cmd)
	}

	if _, ok := msg.(tea.KeyMsg); ok {
		switch m.state {
		case common.CreateUserView:
			m.newUserModel, cmd = m.newUserModel.Update(msg)
		case common.CreateNoteView:
			m.createModel, cmd = m.createModel.Update(msg)
		case common.ListNotesView:
			m.listModel, cmd = m.listModel.Update(msg)
		case common.TimelineView:
			m.timelineModel, cmd = m.timelineModel.Update(msg)
		case common.FollowUserView:
			m.followModel, cmd = m.followModel.Update(msg)
		case common.FollowersView:
			m.followersModel, cmd = m.followersModel.Update(msg)
		case common.FollowingView:
			m.followingModel, cmd = m.followingModel.Update(msg)
		case common.FederationView:
			m.federationModel, cmd = m.federationModel.Update(msg)
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m MainModel) currentRightPane() string {
	switch m.state {
	case common.ListNotesView, common.CreateNoteView:
		return m.listModel.View()
	case common.TimelineView:
		return m.timelineModel.View()
	case common.FollowUserView:
		return m.followModel.View()
	case common.FollowersView:
		return m.followersModel.View()
	case common.FollowingView:
		return m.followingModel.View()
	case common.FederationView:
		return m.federationModel.View()
	}
	return ""
}

func (m MainModel) View() string {
	if m.state == common.CreateUserView {
		return createuser.Style.Width(m.width).Render(m.newUserModel.View())
	}

	availableHeight := m.height - 10
	leftPanelWidth := m.width / 3
	rightPanelWidth := m.width - leftPanelWidth - 6

	createStyleStr := lipgloss.NewStyle().
		MaxHeight(availableHeight).
		Height(availableHeight).
		Width(leftPanelWidth).
		MaxWidth(leftPanelWidth).
		Render(m.createModel.View())

	rightStyleStr := lipgloss.NewStyle().
		MaxHeight(availableHeight).
		Height(availableHeight).
		Width(rightPanelWidth).
		MaxWidth(rightPanelWidth).
		Margin(1).
		Render(m.currentRightPane())

	s := lipgloss.NewStyle().Render(m.headerModel.View()) + "\n"

	if m.state == common.CreateNoteView {
		s += lipgloss.JoinHorizontal(lipgloss.Top,
			focusedModelStyle.Render(createStyleStr),
			modelStyle.Render(rightStyleStr))
	} else {
		s += lipgloss.JoinHorizontal(lipgloss.Top,
			modelStyle.Render(createStyleStr),
			focusedModelStyle.Render(rightStyleStr))
	}

	s += "\n" + common.HelpStyle.Render("tab: next view • shift+tab: prev view • ctrl+c: quit")

	return s
}
