package listnotes

import (
	"fmt"
	"log"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/ui/common"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

type Model struct {
	AccountId uuid.UUID
	Notes     []domain.Note
	Offset    int
	Width     int
	Height    int
}

func InitialModel(accountId uuid.UUID, width, height int) Model {
	return Model{
		AccountId: accountId,
		Notes:     []domain.Note{},
		Offset:    0,
		Width:     width,
		Height:    height,
	}
}

func (m Model) Init() tea.Cmd {
	return loadNotes(m.AccountId)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case notesLoadedMsg:
		m.Notes = msg.notes
		m.Offset = 0
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.Offset > 0 {
				m.Offset--
			}
		case "down", "j":
			if len(m.Notes) > 0 && m.Offset < len(m.Notes)-1 {
				m.Offset++
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("my notes (%d)", len(m.Notes))))
	s.WriteString("\n\n")

	if len(m.Notes) == 0 {
		s.WriteString(common.EmptyStyle.Render("No notes yet. Write your first one!"))
		return s.String()
	}

	itemsPerPage := 8
	start := m.Offset
	end := start + itemsPerPage
	if end > len(m.Notes) {
		end = len(m.Notes)
	}

	for i := start; i < end; i++ {
		note := m.Notes[i]
		line := fmt.Sprintf("%s\n  %s",
			common.HelpStyle.Render(note.CreatedAt.Format(util.DateTimeFormat())),
			note.Message)
		if note.Summary != "" {
			line = fmt.Sprintf("%s\n  cw: %s", line, note.Summary)
		}
		s.WriteString(common.ItemStyle.Render(line))
		s.WriteString("\n")
	}

	return s.String()
}

type notesLoadedMsg struct {
	notes []domain.Note
}

func loadNotes(accountId uuid.UUID) tea.Cmd {
	return func() tea.Msg {
		database := db.GetDB()

		err, account := database.ReadAccById(accountId)
		if err != nil {
			log.Printf("Failed to load account: %v", err)
			return notesLoadedMsg{notes: []domain.Note{}}
		}

		err, notes := database.ReadNotesByUsername(account.Username)
		if err != nil || notes == nil {
			return notesLoadedMsg{notes: []domain.Note{}}
		}

		return notesLoadedMsg{notes: *notes}
	}
}
