package email

type receiptData struct {
	AppName     string
	Name        string
	Description string
	Amount      string
}

type ticketData struct {
	AppName    string
	HolderName string
	TourName   string
	Seats      int
}

type tipData struct {
	AppName    string
	DriverName string
	Amount     string
}

type offerData struct {
	AppName    string
	DriverName string
	TourName   string
	StartDate  string
	Payout     string
	ExpiresAt  string
}

type acceptedData struct {
	AppName    string
	DriverName string
	TourName   string
	Reference  string
	StartDate  string
}

type verificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type passwordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

const emailStyle = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0a7d5c; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0a7d5c; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .amount { font-size: 24px; font-weight: bold; color: #0a7d5c; }
        .link { word-break: break-all; color: #0a7d5c; }
`

const receiptTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Payment received</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    {{if .Name}}<h2>Thank you, {{.Name}}!</h2>{{else}}<h2>Thank you!</h2>{{end}}
    <p>We have received your payment.</p>
    <p>{{.Description}}</p>
    <p class="amount">{{.Amount}}</p>
    <div class="footer">
        <p>Keep this email as your receipt. If you did not make this payment, please contact us.</p>
    </div>
</body>
</html>`

const ticketTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Ticket confirmation</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>See you soon, {{.HolderName}}!</h2>
    <p>Your payment is confirmed. You hold <strong>{{.Seats}}</strong> seat(s) on:</p>
    <p><strong>{{.TourName}}</strong></p>
    <p>Please show this email to your driver at departure.</p>
    <div class="footer">
        <p>Need to change your booking? Reply to this email and we will help.</p>
    </div>
</body>
</html>`

const tipTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>You received a tip</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Nice work, {{.DriverName}}!</h2>
    <p>A guest left you a tip:</p>
    <p class="amount">{{.Amount}}</p>
    <p>It will be included in your next payout.</p>
</body>
</html>`

const offerTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New tour offer</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Hi {{.DriverName}},</h2>
    <p>You have a new tour offer:</p>
    <p><strong>{{.TourName}}</strong> starting {{.StartDate}}</p>
    <p class="amount">{{.Payout}}</p>
    <p>This offer expires at <strong>{{.ExpiresAt}}</strong>. Open the driver app to accept or decline.</p>
    <div class="footer">
        <p>Offers are first come, first served across drivers.</p>
    </div>
</body>
</html>`

const acceptedTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Assignment confirmed</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Assignment confirmed</h2>
    <p>{{.DriverName}} is confirmed for <strong>{{.TourName}}</strong> ({{.Reference}}), starting {{.StartDate}}.</p>
    <p>Full trip details and the guest manifest are in the driver app.</p>
</body>
</html>`

const verificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Verify your {{.AppName}} account</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Welcome, {{.UserName}}!</h2>
    <p>Thank you for signing up. Please verify your email address to activate your account.</p>
    <p><a href="{{.VerificationURL}}" class="button">Verify Email Address</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.VerificationURL}}</p>
    <p>This verification link will expire in 24 hours.</p>
    <div class="footer">
        <p>If you didn't create an account with {{.AppName}}, you can safely ignore this email.</p>
    </div>
</body>
</html>`

const passwordResetEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Reset your {{.AppName}} password</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Password Reset Request</h2>
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password. Click the button below to create a new password:</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ResetURL}}</p>
    <div class="footer">
        <p>If you didn't request a password reset, you can safely ignore this email. Your password will remain unchanged.</p>
    </div>
</body>
</html>`
