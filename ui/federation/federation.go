package federation

import (
	"fmt"
	"log"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/ui/common"
	"github.com/deemkeen/mammut/util"
)

const (
	jobLimit      = 10
	activityLimit = 15
)

// Model shows the state of the delivery queue next to the most
// recently processed activities.
type Model struct {
	Pending    int
	Jobs       []domain.DeliveryJob
	Activities []domain.Activity
	Width      int
	Height     int
}

func InitialModel(width, height int) Model {
	return Model{
		Jobs:       []domain.DeliveryJob{},
		Activities: []domain.Activity{},
		Width:      width,
		Height:     height,
	}
}

func (m Model) Init() tea.Cmd {
	return loadFederation()
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case federationLoadedMsg:
		m.Pending = msg.pending
		m.Jobs = msg.jobs
		m.Activities = msg.activities
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "r" {
			return m, loadFederation()
		}
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("federation · %d pending deliveries", m.Pending)))
	s.WriteString("\n\n")

	if len(m.Jobs) > 0 {
		s.WriteString(common.HelpStyle.Render("delivery queue"))
		s.WriteString("\n")
		for _, job := range m.Jobs {
			line := fmt.Sprintf("%s · attempts %d · next try %s",
				job.Kind, job.Attempts, job.NextRetryAt.Format(util.DateTimeFormat()))
			s.WriteString(common.ItemStyle.Render(line))
			s.WriteString("\n")
		}
		s.WriteString("\n")
	}

	s.WriteString(common.HelpStyle.Render("recent activity"))
	s.WriteString("\n")
	if len(m.Activities) == 0 {
		s.WriteString(common.ItemStyle.Render(common.EmptyStyle.Render("Nothing federated yet.")))
		s.WriteString("\n")
	}
	for _, activity := range m.Activities {
		mark := common.FailStyle.Render("✗")
		if activity.Processed {
			mark = common.OkStyle.Render("✓")
		}
		line := fmt.Sprintf("%s %s %s",
			mark, activity.ActivityType,
			common.HelpStyle.Render(activity.ActorURI))
		s.WriteString(common.ItemStyle.Render(line))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(common.HelpStyle.Render("r: refresh"))

	return s.String()
}

type federationLoadedMsg struct {
	pending    int
	jobs       []domain.DeliveryJob
	activities []domain.Activity
}

func loadFederation() tea.Cmd {
	return func() tea.Msg {
		database := db.GetDB()
		msg := federationLoadedMsg{
			jobs:       []domain.DeliveryJob{},
			activities: []domain.Activity{},
		}

		err, pending := database.CountPendingDeliveries()
		if err != nil {
			log.Printf("Failed to count pending deliveries: %v", err)
		}
		msg.pending = pending

		if err, jobs := database.ReadPendingDeliveries(jobLimit); err == nil && jobs != nil {
			msg.jobs = *jobs
		}

		if err, activities := database.ReadRecentActivities(activityLimit); err == nil && activities != nil {
			msg.activities = *activities
		}

		return msg
	}
}
