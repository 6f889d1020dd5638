package web

import (
	"fmt"

	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/util"
)

func GetWebfinger(user string, conf *util.AppConfig) (error, string) {

	err, identity := db.GetDB().ReadIdentityByUsername(user)
	if err != nil {
		return err, GetWebFingerNotFound()
	}

	return nil, fmt.Sprintf(
		`{
					"subject": "acct:%s@%s",

					"links": [
						{
							"rel": "self",
							"type": "application/activity+json",
							"href": "%s"
						}
					]
				}`, identity.Username, conf.Conf.SslDomain, identity.ActorURI)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
