package email

import (
	"fmt"
	"html"
	"strings"
)

// ReminderTemplate renders a reminder body as HTML. Each line of body becomes
// its own paragraph.
func ReminderTemplate(title, body, firm string) string {
	var paragraphs strings.Builder
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fmt.Fprintf(&paragraphs, "            <p>%s</p>\n", html.EscapeString(line))
	}

	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; background-color: #f4f4f4; margin: 0; padding: 20px; }
        .container { max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { background-color: #1F3A5F; color: white; padding: 20px; text-align: center; }
        .header h1 { margin: 0; font-size: 22px; }
        .content { padding: 30px; }
        .footer { background-color: #f8f9fa; padding: 15px; text-align: center; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>%s</h1>
        </div>
        <div class="content">
%s        </div>
        <div class="footer">
            <p>Este es un correo automático de %s</p>
            <p>No responda a este correo</p>
        </div>
    </div>
</body>
</html>
`, html.EscapeString(title), paragraphs.String(), html.EscapeString(firm))
}
