package command

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/datnetwork/datmind/internal/ledger"
	"github.com/datnetwork/datmind/internal/models"
)

// Name identifies one user action
type Name string

const (
	Follow          Name = "follow"
	Unfollow        Name = "unfollow"
	WithdrawRequest Name = "withdraw_request"
	RemoveFollower  Name = "remove_follower"
	AcceptRequest   Name = "accept_request"
	DeclineRequest  Name = "decline_request"
	MintToken       Name = "mint_token"
	PostToken       Name = "post_token"
	TakeToken       Name = "take_token"
	DestroyToken    Name = "destroy_token"
)

// Args carries the user-supplied arguments of every action; each action reads the
// fields it needs
type Args struct {
	Party       models.Party      `json:"party,omitempty"`
	RequestID   models.ContractID `json:"requestId,omitempty"`
	TokenID     string            `json:"tokenId,omitempty"`
	PostID      string            `json:"postId,omitempty"`
	Sender      models.Party      `json:"sender,omitempty"`
	Title       string            `json:"title,omitempty"`
	Content     string            `json:"content,omitempty"`
	Description string            `json:"description,omitempty"`
}

// Trimmed returns args with surrounding blanks removed from every identifier
func (a Args) Trimmed() Args {
	a.Party = strings.TrimSpace(a.Party)
	a.RequestID = strings.TrimSpace(a.RequestID)
	a.TokenID = strings.TrimSpace(a.TokenID)
	a.PostID = strings.TrimSpace(a.PostID)
	a.Sender = strings.TrimSpace(a.Sender)
	return a
}

// Action describes how one user action maps onto a single ledger exercise. Exactly
// one of Key and ContractID is set.
type Action struct {
	Name       Name
	TemplateID string
	Choice     string
	Validate   func(me models.Party, args Args) error
	Key        func(me models.Party, args Args) interface{}
	ContractID func(args Args) models.ContractID
	Argument   func(me models.Party, args Args) interface{}
}

// Target renders the addressed contract for logs and the journal
func (a Action) Target(me models.Party, args Args) string {
	if a.ContractID != nil {
		return a.ContractID(args)
	}
	return fmt.Sprintf("%v", a.Key(me, args))
}

// Exercise builds the ledger command for args
func (a Action) Exercise(me models.Party, args Args, commandID string) ledger.ExerciseCommand {
	cmd := ledger.ExerciseCommand{
		TemplateID: a.TemplateID,
		Choice:     a.Choice,
		Argument:   struct{}{},
		CommandID:  commandID,
	}
	if a.ContractID != nil {
		cmd.ContractID = a.ContractID(args)
	} else {
		cmd.Key = a.Key(me, args)
	}
	if a.Argument != nil {
		cmd.Argument = a.Argument(me, args)
	}
	return cmd
}

type pairKey struct {
	Follower models.Party `json:"follower"`
	Followee models.Party `json:"followee"`
}

type requestToFollowArg struct {
	UserToFollow models.Party `json:"userToFollow"`
}

type mintTokenArg struct {
	TokenID     string `json:"tokenId"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

type sendPostArg struct {
	PostID string `json:"postId"`
}

type takeTokenArg struct {
	NewOwner models.Party `json:"newOwner"`
}

func userKey(me models.Party, _ Args) interface{} { return me }

func outgoingPair(me models.Party, args Args) interface{} {
	return pairKey{Follower: me, Followee: args.Party}
}

func incomingPair(me models.Party, args Args) interface{} {
	return pairKey{Follower: args.Party, Followee: me}
}

func myToken(me models.Party, args Args) interface{} {
	return models.TupleKey{First: me, Second: args.TokenID}
}

func requestContract(args Args) models.ContractID { return args.RequestID }

func requireParty(_ models.Party, args Args) error {
	if args.Party == "" {
		return fmt.Errorf("%w: party is required", ErrInvalidArgument)
	}
	return nil
}

func requireRequest(_ models.Party, args Args) error {
	if args.RequestID == "" {
		return fmt.Errorf("%w: requestId is required", ErrInvalidArgument)
	}
	return nil
}

func requireToken(_ models.Party, args Args) error {
	if args.TokenID == "" {
		return fmt.Errorf("%w: tokenId is required", ErrInvalidArgument)
	}
	return nil
}

var actions = map[Name]Action{
	Follow: {
		Name:       Follow,
		TemplateID: ledger.TemplateUser,
		Choice:     ledger.ChoiceRequestToFollow,
		Validate: func(me models.Party, args Args) error {
			if err := requireParty(me, args); err != nil {
				return err
			}
			if args.Party == me {
				return fmt.Errorf("%w: cannot follow yourself", ErrInvalidArgument)
			}
			return nil
		},
		Key: userKey,
		Argument: func(_ models.Party, args Args) interface{} {
			return requestToFollowArg{UserToFollow: args.Party}
		},
	},
	Unfollow: {
		Name:       Unfollow,
		TemplateID: ledger.TemplateFollows,
		Choice:     ledger.ChoiceUnfollow,
		Validate:   requireParty,
		Key:        outgoingPair,
	},
	WithdrawRequest: {
		Name:       WithdrawRequest,
		TemplateID: ledger.TemplateFollowRequest,
		Choice:     ledger.ChoiceWithdrawFollowRequest,
		Validate:   requireParty,
		Key:        outgoingPair,
	},
	RemoveFollower: {
		Name:       RemoveFollower,
		TemplateID: ledger.TemplateFollows,
		Choice:     ledger.ChoiceRemoveFollower,
		Validate:   requireParty,
		Key:        incomingPair,
	},
	AcceptRequest: {
		Name:       AcceptRequest,
		TemplateID: ledger.TemplateFollowRequest,
		Choice:     ledger.ChoiceAcceptFollowRequest,
		Validate:   requireRequest,
		ContractID: requestContract,
	},
	DeclineRequest: {
		Name:       DeclineRequest,
		TemplateID: ledger.TemplateFollowRequest,
		Choice:     ledger.ChoiceDeclineFollowRequest,
		Validate:   requireRequest,
		ContractID: requestContract,
	},
	MintToken: {
		Name:       MintToken,
		TemplateID: ledger.TemplateUser,
		Choice:     ledger.ChoiceMintToken,
		Validate: func(_ models.Party, args Args) error {
			if strings.TrimSpace(args.Content) == "" {
				return fmt.Errorf("%w: content is required", ErrInvalidArgument)
			}
			return nil
		},
		Key: userKey,
		Argument: func(_ models.Party, args Args) interface{} {
			return mintTokenArg{
				TokenID:     uuid.NewString(),
				Title:       args.Title,
				Content:     args.Content,
				Description: args.Description,
			}
		},
	},
	PostToken: {
		Name:       PostToken,
		TemplateID: ledger.TemplateToken,
		Choice:     ledger.ChoiceSendPost,
		Validate:   requireToken,
		Key:        myToken,
		Argument: func(models.Party, Args) interface{} {
			return sendPostArg{PostID: uuid.NewString()}
		},
	},
	TakeToken: {
		Name:       TakeToken,
		TemplateID: ledger.TemplatePost,
		Choice:     ledger.ChoiceTakeToken,
		Validate: func(_ models.Party, args Args) error {
			if args.Sender == "" || args.PostID == "" {
				return fmt.Errorf("%w: sender and postId are required", ErrInvalidArgument)
			}
			return nil
		},
		Key: func(_ models.Party, args Args) interface{} {
			return models.TupleKey{First: args.Sender, Second: args.PostID}
		},
		Argument: func(me models.Party, _ Args) interface{} {
			return takeTokenArg{NewOwner: me}
		},
	},
	DestroyToken: {
		Name:       DestroyToken,
		TemplateID: ledger.TemplateToken,
		Choice:     ledger.ChoiceDestroyToken,
		Validate:   requireToken,
		Key:        myToken,
	},
}

// Lookup returns the descriptor of the named action
func Lookup(name Name) (Action, bool) {
	a, ok := actions[name]
	return a, ok
}

// Names lists every supported action
func Names() []Name {
	return []Name{Follow, Unfollow, WithdrawRequest, RemoveFollower, AcceptRequest,
		DeclineRequest, MintToken, PostToken, TakeToken, DestroyToken}
}
