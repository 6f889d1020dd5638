package web

import (
	"encoding/json"
	"fmt"

	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/util"
)

// GetActor renders a local identity as an ActivityPub actor document.
func GetActor(username string, conf *util.AppConfig) (error, string) {
	err, identity := db.GetDB().ReadIdentityByUsername(username)
	if err != nil {
		return err, `{"detail":"Not Found"}`
	}

	actor := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                identity.ActorURI,
		"type":              "Person",
		"preferredUsername": identity.Username,
		"name":              identity.DisplayName,
		"inbox":             identity.InboxURI,
		"outbox":            identity.OutboxURI,
		"followers":         identity.ActorURI + "/followers",
		"featured":          identity.FeaturedCollectionURI,
		"endpoints": map[string]string{
			"sharedInbox": fmt.Sprintf("https://%s/inbox", conf.Conf.SslDomain),
		},
		"publicKey": map[string]string{
			"id":           identity.ActorURI + "#main-key",
			"owner":        identity.ActorURI,
			"publicKeyPem": identity.PublicKeyPem,
		},
	}

	rendered, err := json.Marshal(actor)
	if err != nil {
		return err, ""
	}
	return nil, string(rendered)
}

// GetActorFollowers renders a local identity's followers collection. Only the
// total is exposed; the member list stays private.
func GetActorFollowers(username string) (error, string) {
	database := db.GetDB()
	err, identity := database.ReadIdentityByUsername(username)
	if err != nil {
		return err, `{"detail":"Not Found"}`
	}

	err, follows := database.ReadActiveFollowsOfTarget(identity.Id)
	if err != nil {
		return err, `{"detail":"Not Found"}`
	}

	collection := map[string]interface{}{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         identity.ActorURI + "/followers",
		"type":       "OrderedCollection",
		"totalItems": len(*follows),
	}
	rendered, err := json.Marshal(collection)
	if err != nil {
		return err, ""
	}
	return nil, string(rendered)
}
