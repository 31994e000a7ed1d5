package domain

// MailCredentials 发件邮箱的登录凭据（已解密）
type MailCredentials struct {
	Address string
	Secret  string
}

// OutgoingAttachment 随邮件发送的附件内容
type OutgoingAttachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

// OutgoingMail 一封待投递的邮件
type OutgoingMail struct {
	From        string
	To          string
	Subject     string
	HTMLBody    string
	Attachments []OutgoingAttachment
}
