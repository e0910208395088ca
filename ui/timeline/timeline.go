package timeline

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

const inboxLimit = 50

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
	return loadTimeline(m.AccountId)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case timelineLoadedMsg:
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

	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("timeline (%d)", len(m.Notes))))
	s.WriteString("\n\n")

	if len(m.Notes) == 0 {
		s.WriteString(common.EmptyStyle.Render("Nothing here yet. Follow some accounts to fill your timeline!"))
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
		author := note.CreatedBy
		if !note.AccountLocal {
			database := db.GetDB()
			err, remoteAcc := database.ReadRemoteAccountById(note.AccountId)
			if err == nil {
				author = fmt.Sprintf("%s@%s", remoteAcc.Username, remoteAcc.Domain)
			}
		}

		s.WriteString(common.ItemStyle.Render(fmt.Sprintf("%s %s\n  %s",
			common.HelpStyle.Render(note.CreatedAt.Format(util.DateTimeFormat())),
			author,
			note.Message)))
		s.WriteString("\n")
	}

	return s.String()
}

type timelineLoadedMsg struct {
	notes []domain.Note
}

func loadTimeline(accountId uuid.UUID) tea.Cmd {
	return func() tea.Msg {
		database := db.GetDB()

		err, entries := database.ReadInboxByAccount(accountId, inboxLimit)
		if err != nil {
			log.Printf("Failed to load timeline: %v", err)
			return timelineLoadedMsg{notes: []domain.Note{}}
		}

		notes := make([]domain.Note, 0, len(*entries))
		for _, entry := range *entries {
			err, note := database.ReadAnyNoteById(entry.NoteId)
			if err != nil {
				continue
			}
			notes = append(notes, *note)
		}

		return timelineLoadedMsg{notes: notes}
	}
}
