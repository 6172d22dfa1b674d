package enum

type TriggerKind string

const (
	TriggerMessageCreated      TriggerKind = "message.created"
	TriggerMessageUpdated      TriggerKind = "message.updated"
	TriggerMessageDeleted      TriggerKind = "message.deleted"
	TriggerFolderUpdated       TriggerKind = "folder.updated"
	TriggerAccountConnected    TriggerKind = "account.connected"
	TriggerAccountInvalidCreds TriggerKind = "account.invalid_credentials"
)

func (t TriggerKind) String() string {
	return string(t)
}
