package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"
)

func GetRSS(database *db.DB, conf *util.AppConfig, username string) (string, error) {
	var err error
	var notes *[]domain.Note
	var title string
	var createdBy string
	var email string

	link := fmt.Sprintf("http://%s:%d/feed", conf.Conf.Host, conf.Conf.HttpPort)

	if username != "" {
		err, notes = database.ReadNotesByUsername(username)
		if err != nil || *notes == nil {
			log.Println(fmt.Sprintf("Could not get notes from %s!", username), err)
			return "", errors.New("error retrieving notes by username")
		}
		title = fmt.Sprintf("Mammut Notes - %s", username)
		createdBy = (*notes)[0].CreatedBy
		email = fmt.Sprintf("%s@mammut", (*notes)[0].CreatedBy)
		link = fmt.Sprintf("%s?username=%s", link, username)
	} else {
		err, notes = database.ReadAllNotes()
		if err != nil || *notes == nil {
			log.Println("Could not get notes!", err)
			return "", errors.New("error retrieving notes")
		}
		title = "All Mammut Notes"
		createdBy = "everyone"
		email = fmt.Sprintf("%s@mammut", createdBy)
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: "rss feed for mammut notes",
		Author:      &feeds.Author{Name: createdBy, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, note := range *notes {
		email := fmt.Sprintf("%s@mammut", note.CreatedBy)
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      note.Id.String(),
				Title:   note.CreatedAt.Format(util.DateTimeFormat()),
				Link:    &feeds.Link{Href: fmt.Sprintf("http://%s:%d/feed/%s", conf.Conf.Host, conf.Conf.HttpPort, note.Id)},
				Content: note.Message,
				Author:  &feeds.Author{Name: note.CreatedBy, Email: email},
				Created: note.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}

func GetRSSItem(database *db.DB, conf *util.AppConfig, id uuid.UUID) (string, error) {
	err, note := database.ReadNoteById(id)

	if err != nil || note == nil {
		log.Println("Could not get note!", err)
		return "", errors.New("error retrieving note by id")
	}

	email := fmt.Sprintf("%s@mammut", note.CreatedBy)
	url := fmt.Sprintf("http://%s:%d/feed/%s", conf.Conf.Host, conf.Conf.HttpPort, note.Id)

	feed := &feeds.Feed{
		Title:       "Single Mammut Note",
		Link:        &feeds.Link{Href: url},
		Description: "rss feed for mammut notes",
		Author:      &feeds.Author{Name: note.CreatedBy, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item

	feedItems = append(feedItems,
		&feeds.Item{
			Id:      note.Id.String(),
			Title:   note.CreatedAt.Format(util.DateTimeFormat()),
			Link:    &feeds.Link{Href: url},
			Content: note.Message,
			Author:  &feeds.Author{Name: note.CreatedBy, Email: email},
			Created: note.CreatedAt,
		})

	feed.Items = feedItems
	return feed.ToRss()
}
