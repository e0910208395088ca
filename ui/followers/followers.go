package followers

import (
	"fmt"
	"log"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/ui/common"
	"github.com/google/uuid"
)

type Model struct {
	AccountId uuid.UUID
	Followers []domain.Follow
	Offset    int
	Width     int
	Height    int
}

func InitialModel(accountId uuid.UUID, width, height int) Model {
	return Model{
		AccountId: accountId,
		Followers: []domain.Follow{},
		Offset:    0,
		Width:     width,
		Height:    height,
	}
}

func (m Model) Init() tea.Cmd {
	return loadFollowers(m.AccountId)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case followersLoadedMsg:
		m.Followers = msg.followers
		m.Offset = 0
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.Offset > 0 {
				m.Offset--
			}
		case "down", "j":
			if len(m.Followers) > 0 && m.Offset < len(m.Followers)-1 {
				m.Offset++
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("followers (%d)", len(m.Followers))))
	s.WriteString("\n\n")

	if len(m.Followers) == 0 {
		s.WriteString(common.EmptyStyle.Render("No followers yet. Share your account to get followers!"))
		return s.String()
	}

	itemsPerPage := 10
	start := m.Offset
	end := start + itemsPerPage
	if end > len(m.Followers) {
		end = len(m.Followers)
	}

	for i := start; i < end; i++ {
		follow := m.Followers[i]
		s.WriteString(common.ItemStyle.Render("• " + FollowerHandle(follow.AccountId, follow.AccountLocal)))
		s.WriteString("\n")
	}

	return s.String()
}

// FollowerHandle renders the local or fediverse address of the account
// on the near side of a follow row.
func FollowerHandle(accountId uuid.UUID, local bool) string {
	database := db.GetDB()

	if local {
		err, acc := database.ReadAccById(accountId)
		if err != nil {
			log.Printf("Failed to read local account: %v", err)
			return accountId.String()
		}
		return acc.Username
	}

	err, remoteAcc := database.ReadRemoteAccountById(accountId)
	if err != nil {
		log.Printf("Failed to read remote account: %v", err)
		return accountId.String()
	}

	displayName := remoteAcc.DisplayName
	if displayName == "" {
		displayName = remoteAcc.Username
	}
	return fmt.Sprintf("%s (@%s@%s)", displayName, remoteAcc.Username, remoteAcc.Domain)
}

type followersLoadedMsg struct {
	followers []domain.Follow
}

func loadFollowers(accountId uuid.UUID) tea.Cmd {
	return func() tea.Msg {
		database := db.GetDB()
		err, follows := database.ReadFollowersOf(accountId)
		if err != nil {
			log.Printf("Failed to load followers: %v", err)
			return followersLoadedMsg{followers: []domain.Follow{}}
		}

		if follows == nil {
			return followersLoadedMsg{followers: []domain.Follow{}}
		}

		return followersLoadedMsg{followers: *follows}
	}
}
