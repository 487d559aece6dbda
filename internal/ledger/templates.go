package ledger

// Template identifiers of the application's ledger model
const (
	TemplateUser          = "User:User"
	TemplateFollows       = "Follows:Follows"
	TemplateFollowRequest = "Follows:FollowRequest"
	TemplateToken         = "Token:Token"
	TemplatePost          = "Token:Post"
)

// Choice names exercised by the dispatcher
const (
	ChoiceRequestToFollow       = "RequestToFollow"
	ChoiceMintToken             = "MintToken"
	ChoiceUnfollow              = "Unfollow"
	ChoiceRemoveFollower        = "RemoveFollower"
	ChoiceWithdrawFollowRequest = "WithdrawFollowRequest"
	ChoiceAcceptFollowRequest   = "AcceptFollowRequest"
	ChoiceDeclineFollowRequest  = "DeclineFollowRequest"
	ChoiceSendPost              = "Post_SendPost"
	ChoiceTakeToken             = "Post_TakeToken"
	ChoiceDestroyToken          = "Token_Destroy"
)
