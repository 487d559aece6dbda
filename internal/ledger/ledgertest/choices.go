package ledgertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/datnetwork/datmind/internal/ledger"
	"github.com/datnetwork/datmind/internal/models"
)

type change struct {
	created  *contract
	archived *contract
}

type transaction struct {
	ledger  *Ledger
	at      time.Time
	changes []change
	keys    map[string]*contract
}

func (l *Ledger) begin() *transaction {
	l.now = l.now.Add(time.Minute)
	return &transaction{ledger: l, at: l.now, keys: make(map[string]*contract)}
}

func (tx *transaction) create(template string, key interface{}, payload interface{}, observers ...models.Party) *contract {
	tx.ledger.seq++
	c := &contract{
		id:        fmt.Sprintf("#%d", tx.ledger.seq),
		template:  template,
		key:       canonicalKey(key),
		payload:   payload,
		observers: slices.Compact(slices.Sorted(slices.Values(observers))),
	}
	tx.keys[template+c.key] = c
	tx.changes = append(tx.changes, change{created: c})
	return c
}

func (tx *transaction) archive(c *contract) {
	delete(tx.keys, c.template+c.key)
	tx.changes = append(tx.changes, change{archived: c})
}

// keyTaken checks the ledger state as of this transaction
func (tx *transaction) keyTaken(template string, key interface{}) bool {
	k := canonicalKey(key)
	if _, ok := tx.keys[template+k]; ok {
		return true
	}
	c := tx.ledger.byKey(template, k)
	if c == nil {
		return false
	}
	for _, ch := range tx.changes {
		if ch.archived == c {
			return false
		}
	}
	return true
}

// commit applies the transaction and delivers one batch per affected subscription
func (l *Ledger) commit(tx *transaction) {
	batches := make(map[*subscriber][]ledger.Event)
	for _, ch := range tx.changes {
		switch {
		case ch.created != nil:
			l.contracts[ch.created.id] = ch.created
			for s := range l.subs {
				if s.sees(ch.created) {
					batches[s] = append(batches[s], createdEvent(ch.created))
				}
			}
		case ch.archived != nil:
			delete(l.contracts, ch.archived.id)
			for s := range l.subs {
				if s.sees(ch.archived) {
					batches[s] = append(batches[s], ledger.Event{Archived: &ledger.ArchivedEvent{
						ContractID: ch.archived.id,
						TemplateID: ch.archived.template,
					}})
				}
			}
		}
	}
	for s, events := range batches {
		s.push(ledger.Batch{Events: events, Live: true})
	}
}

// followersOf lists the parties following party
func (l *Ledger) followersOf(party models.Party) []models.Party {
	var out []models.Party
	for _, c := range l.contracts {
		if f, ok := c.payload.(models.Follows); ok && c.template == ledger.TemplateFollows && f.Followee == party {
			out = append(out, f.Follower)
		}
	}
	return out
}

func decode(arg interface{}, into interface{}) error {
	raw, err := json.Marshal(arg)
	if err != nil {
		return reject(http.StatusBadRequest, "invalid argument: %v", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return reject(http.StatusBadRequest, "invalid argument: %v", err)
	}
	return nil
}

func (tx *transaction) exercise(actor models.Party, target *contract, cmd ledger.ExerciseCommand) error {
	switch target.template + "." + cmd.Choice {
	case ledger.TemplateUser + "." + ledger.ChoiceRequestToFollow:
		return tx.requestToFollow(actor, target, cmd.Argument)
	case ledger.TemplateUser + "." + ledger.ChoiceMintToken:
		return tx.mintToken(actor, target, cmd.Argument)
	case ledger.TemplateFollows + "." + ledger.ChoiceUnfollow:
		return tx.archiveFollows(actor, target, true)
	case ledger.TemplateFollows + "." + ledger.ChoiceRemoveFollower:
		return tx.archiveFollows(actor, target, false)
	case ledger.TemplateFollowRequest + "." + ledger.ChoiceWithdrawFollowRequest:
		return tx.closeRequest(actor, target, true, false)
	case ledger.TemplateFollowRequest + "." + ledger.ChoiceAcceptFollowRequest:
		return tx.closeRequest(actor, target, false, true)
	case ledger.TemplateFollowRequest + "." + ledger.ChoiceDeclineFollowRequest:
		return tx.closeRequest(actor, target, false, false)
	case ledger.TemplateToken + "." + ledger.ChoiceSendPost:
		return tx.sendPost(actor, target, cmd.Argument)
	case ledger.TemplateToken + "." + ledger.ChoiceDestroyToken:
		return tx.destroyToken(actor, target)
	case ledger.TemplatePost + "." + ledger.ChoiceTakeToken:
		return tx.takeToken(actor, target, cmd.Argument)
	}
	return reject(http.StatusBadRequest, "unknown choice %s on %s", cmd.Choice, target.template)
}

func (tx *transaction) requestToFollow(actor models.Party, user *contract, arg interface{}) error {
	me := user.payload.(models.User).Username
	if me != actor {
		return reject(http.StatusForbidden, "%s cannot act as %s", actor, me)
	}
	var in struct {
		UserToFollow models.Party `json:"userToFollow"`
	}
	if err := decode(arg, &in); err != nil {
		return err
	}
	if in.UserToFollow == me {
		return reject(http.StatusConflict, "You cannot follow yourself")
	}
	pair := models.Follows{Follower: me, Followee: in.UserToFollow}
	if tx.keyTaken(ledger.TemplateFollows, pair) {
		return reject(http.StatusConflict, "You are already following %s", in.UserToFollow)
	}
	if tx.keyTaken(ledger.TemplateFollowRequest, pair) {
		return reject(http.StatusConflict, "You have already requested to follow %s", in.UserToFollow)
	}
	tx.create(ledger.TemplateFollowRequest, pair, models.FollowRequest{Follows: pair}, me, in.UserToFollow)
	return nil
}

func (tx *transaction) archiveFollows(actor models.Party, edge *contract, asFollower bool) error {
	pair := edge.payload.(models.Follows)
	if (asFollower && pair.Follower != actor) || (!asFollower && pair.Followee != actor) {
		return reject(http.StatusForbidden, "%s is not authorized on this edge", actor)
	}
	tx.archive(edge)
	return nil
}

func (tx *transaction) closeRequest(actor models.Party, req *contract, asFollower, accept bool) error {
	pair := req.payload.(models.FollowRequest).Follows
	if (asFollower && pair.Follower != actor) || (!asFollower && pair.Followee != actor) {
		return reject(http.StatusForbidden, "%s is not authorized on this request", actor)
	}
	tx.archive(req)
	if accept {
		tx.create(ledger.TemplateFollows, pair, pair, pair.Follower, pair.Followee)
	}
	return nil
}

func (tx *transaction) mintToken(actor models.Party, user *contract, arg interface{}) error {
	me := user.payload.(models.User).Username
	if me != actor {
		return reject(http.StatusForbidden, "%s cannot act as %s", actor, me)
	}
	var in struct {
		TokenID     string `json:"tokenId"`
		Title       string `json:"title"`
		Content     string `json:"content"`
		Description string `json:"description"`
	}
	if err := decode(arg, &in); err != nil {
		return err
	}
	now := models.LedgerTime{Time: tx.at}
	token := models.Token{
		Author:       me,
		Owner:        me,
		ID:           in.TokenID,
		Title:        in.Title,
		Content:      in.Content,
		Description:  in.Description,
		AuthoredOn:   models.LedgerTime{Time: tx.at.Truncate(24 * time.Hour)},
		OwnerSince:   now,
		OwnerHistory: []models.OwnerEntry{{Owner: me, Since: now}},
	}
	if tx.keyTaken(ledger.TemplateToken, token.Key()) {
		return reject(http.StatusConflict, "token %s already exists", in.TokenID)
	}
	tx.create(ledger.TemplateToken, token.Key(), token, tokenObservers(tx.ledger, me)...)
	return nil
}

func tokenObservers(l *Ledger, owner models.Party) []models.Party {
	return append(l.followersOf(owner), owner)
}

func (tx *transaction) sendPost(actor models.Party, tc *contract, arg interface{}) error {
	token := tc.payload.(models.Token)
	if token.Owner != actor {
		return reject(http.StatusForbidden, "only the owner can post a token")
	}
	var in struct {
		PostID string `json:"postId"`
	}
	if err := decode(arg, &in); err != nil {
		return err
	}
	post := models.Post{Sender: actor, ID: in.PostID, Timestamp: models.LedgerTime{Time: tx.at}, Token: token}
	if tx.keyTaken(ledger.TemplatePost, post.Key()) {
		return reject(http.StatusConflict, "post %s already exists", in.PostID)
	}
	tx.create(ledger.TemplatePost, post.Key(), post, tokenObservers(tx.ledger, actor)...)
	return nil
}

func (tx *transaction) destroyToken(actor models.Party, tc *contract) error {
	token := tc.payload.(models.Token)
	if token.Owner != actor {
		return reject(http.StatusForbidden, "only the owner can destroy a token")
	}
	if token.Owner != token.Author {
		return reject(http.StatusConflict, "Only the author can destroy a token they own")
	}
	tx.archive(tc)
	return nil
}

func (tx *transaction) takeToken(actor models.Party, pc *contract, arg interface{}) error {
	post := pc.payload.(models.Post)
	var in struct {
		NewOwner models.Party `json:"newOwner"`
	}
	if err := decode(arg, &in); err != nil {
		return err
	}
	if in.NewOwner != actor {
		return reject(http.StatusForbidden, "%s cannot take a token for %s", actor, in.NewOwner)
	}
	if post.Sender == actor {
		return reject(http.StatusConflict, "You cannot take your own post")
	}
	if !slices.Contains(pc.observers, actor) {
		return reject(http.StatusForbidden, "post %s is not visible to %s", pc.id, actor)
	}

	current := tx.ledger.byKey(ledger.TemplateToken, canonicalKey(post.Token.Key()))
	if current == nil {
		return reject(http.StatusNotFound, "token %s is no longer owned by %s", post.Token.ID, post.Sender)
	}
	token := current.payload.(models.Token)
	now := models.LedgerTime{Time: tx.at}
	token.Owner = actor
	token.OwnerSince = now
	token.OwnerHistory = append(slices.Clone(token.OwnerHistory), models.OwnerEntry{Owner: actor, Since: now})
	if tx.keyTaken(ledger.TemplateToken, token.Key()) {
		return reject(http.StatusConflict, "%s already owns a token with id %s", actor, token.ID)
	}

	tx.archive(current)
	tx.archive(pc)
	tx.create(ledger.TemplateToken, token.Key(), token, tokenObservers(tx.ledger, actor)...)
	return nil
}
