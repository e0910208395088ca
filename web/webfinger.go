package web

import (
	"fmt"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/util"
)

func GetWebfinger(database *db.DB, user string, conf *util.AppConfig) (error, string) {
	err, acc := database.ReadAccByUsername(user)
	if err != nil {
		return err, GetWebFingerNotFound()
	}

	return nil, fmt.Sprintf(
		`{
					"subject": "%s",

					"links": [
						{
							"rel": "self",
							"type": "application/activity+json",
							"href": "https://%s/users/%s"
						}
					]
				}`, acc.Acct(conf.Conf.SslDomain),
		conf.Conf.SslDomain, acc.Username)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
