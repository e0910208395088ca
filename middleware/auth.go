package middleware

import (
	"log"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/util"
)

func AuthMiddleware() wish.Middleware {
	return func(h ssh.Handler) ssh.Handler {
		return func(s ssh.Session) {
			database := db.GetDB()
			_, found := database.ReadAccBySession(s)

			switch {
			case found != nil:
				util.LogPublicKey(s)
			default:
				err, created := database.CreateAccount(s, util.RandomString(10))
				if err != nil {
					log.Fatalln("Could not create a user: ", err)
				}

				if created {
					util.LogPublicKey(s)
				} else {
					log.Fatalln("The user is still empty!")
				}
			}
			h(s)
		}
	}
}
