package email

const (
	subjectReportReceived  = "Segnalazione ricevuta"
	subjectStatusUpdateFmt = "Aggiornamento sulla segnalazione: %s"
	subjectNewMessageFmt   = "Nuovo messaggio sulla segnalazione: %s"
	subjectVerifyEmail     = "Conferma il tuo indirizzo email"
	subjectPasswordReset   = "Reimposta la tua password"
)
