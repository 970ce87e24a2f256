package models

// SpeakerRole 定义了对话中发言者的角色。
type SpeakerRole string

const (
	SpeakerUser      SpeakerRole = "user"      // 用户
	SpeakerAssistant SpeakerRole = "assistant" // 模型回答
)

// Valid 判断角色是否属于对话记忆接受的角色。
func (r SpeakerRole) Valid() bool {
	return r == SpeakerUser || r == SpeakerAssistant
}

// Turn 是对话记忆中的一条记录，写入后不可修改。
type Turn struct {
	Role SpeakerRole `json:"role"`
	Text string      `json:"text"`
}
