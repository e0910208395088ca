package following

import (
	"fmt"
	"log"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/ui/common"
	"github.com/deemkeen/mammut/ui/followers"
	"github.com/google/uuid"
)

type Model struct {
	AccountId uuid.UUID
	Following []domain.Follow
	Offset    int
	Width     int
	Height    int
}

func InitialModel(accountId uuid.UUID, width, height int) Model {
	return Model{
		AccountId: accountId,
		Following: []domain.Follow{},
		Offset:    0,
		Width:     width,
		Height:    height,
	}
}

func (m Model) Init() tea.Cmd {
	return loadFollowing(m.AccountId)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case followingLoadedMsg:
		m.Following = msg.following
		m.Offset = 0
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.Offset > 0 {
				m.Offset--
			}
		case "down", "j":
			if len(m.Following) > 0 && m.Offset < len(m.Following)-1 {
				m.Offset++
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("following (%d)", len(m.Following))))
	s.WriteString("\n\n")

	if len(m.Following) == 0 {
		s.WriteString(common.EmptyStyle.Render("Not following anyone yet."))
		return s.String()
	}

	itemsPerPage := 10
	start := m.Offset
	end := start + itemsPerPage
	if end > len(m.Following) {
		end = len(m.Following)
	}

	for i := start; i < end; i++ {
		follow := m.Following[i]
		handle := followers.FollowerHandle(follow.TargetAccountId, follow.TargetLocal)
		if !follow.Accepted {
			handle += " " + common.EmptyStyle.Render("(pending)")
		}
		s.WriteString(common.ItemStyle.Render("• " + handle))
		s.WriteString("\n")
	}

	return s.String()
}

type followingLoadedMsg struct {
	following []domain.Follow
}

func loadFollowing(accountId uuid.UUID) tea.Cmd {
	return func() tea.Msg {
		database := db.GetDB()
		err, follows := database.ReadFollowingOf(accountId)
		if err != nil {
			log.Printf("Failed to load following: %v", err)
			return followingLoadedMsg{following: []domain.Follow{}}
		}

		if follows == nil {
			return followingLoadedMsg{following: []domain.Follow{}}
		}

		return followingLoadedMsg{following: *follows}
	}
}
