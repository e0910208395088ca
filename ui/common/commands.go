package common

type SessionState uint

const (
	CreateNoteView SessionState = iota
	ListNotesView
	TimelineView
	FollowUserView
	FollowersView
	FollowingView
	FederationView
	CreateUserView
	UpdateNoteList
)
