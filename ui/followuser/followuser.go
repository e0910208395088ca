package followuser

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/ui/common"
	"github.com/google/uuid"
)

type Model struct {
	TextInput textinput.Model
	AccountId uuid.UUID
	Status    string
	Error     string
}

func InitialModel(accountId uuid.UUID) Model {
	ti := textinput.New()
	ti.Placeholder = "user@mastodon.social"
	ti.Focus()
	ti.CharLimit = 200
	ti.Width = 50

	return Model{
		TextInput: ti,
		AccountId: accountId,
		Status:    "",
		Error:     "",
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

type followResultMsg struct {
	target string
	err    error
}

func followCmd(accountId uuid.UUID, target string) tea.Cmd {
	return func() tea.Msg {
		database := db.GetDB()
		err, account := database.ReadAccById(accountId)
		if err != nil {
			return followResultMsg{target: target, err: fmt.Errorf("failed to get local account: %w", err)}
		}

		engine := activitypub.GetEngine()
		if engine == nil {
			return followResultMsg{target: target, err: fmt.Errorf("federation engine not ready")}
		}

		if err := engine.SendFollow(context.Background(), account, target); err != nil {
			log.Printf("Follow failed: %v", err)
			return followResultMsg{target: target, err: err}
		}

		return followResultMsg{target: target, err: nil}
	}
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case followResultMsg:
		if msg.err != nil {
			m.Error = fmt.Sprintf("Failed: %v", msg.err)
			m.Status = ""
		} else {
			m.Status = fmt.Sprintf("✓ Sent follow request to %s", msg.target)
			m.Error = ""
			m.TextInput.SetValue("")
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			input := strings.TrimSpace(m.TextInput.Value())
			if input == "" {
				m.Error = "Please enter a user@domain or actor URL"
				return m, nil
			}

			m.Status = fmt.Sprintf("Following %s...", input)
			m.Error = ""
			return m, followCmd(m.AccountId, input)
		case "esc":
			m.TextInput.SetValue("")
			m.Status = ""
			m.Error = ""
			return m, nil
		}
	}

	m.TextInput, cmd = m.TextInput.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render("follow remote user"))
	s.WriteString("\n\n")
	s.WriteString("Enter a fediverse address (user@host) or an actor URL:\n\n")
	s.WriteString(m.TextInput.View())
	s.WriteString("\n\n")

	if m.Status != "" {
		s.WriteString(common.OkStyle.Render(m.Status))
		s.WriteString("\n")
	}

	if m.Error != "" {
		s.WriteString(common.FailStyle.Render(m.Error))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(common.HelpStyle.Render("enter: follow • esc: clear • tab: switch view • shift+tab: prev view"))

	return s.String()
}
