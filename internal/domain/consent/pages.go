package consent

import (
	"html/template"
)

var pageTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 32rem; margin: 4rem auto; padding: 0 1rem; color: #1f2933; }
h1 { font-size: 1.5rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

type page struct {
	Title   string
	Message string
}

var (
	pageGranted = page{
		Title:   "Access approved",
		Message: "Thank you. Your care provider can now view your health records. You can close this page.",
	}
	pageMissing = page{
		Title:   "Link incomplete",
		Message: "This approval link is missing its code. Please open the link exactly as it was sent to you.",
	}
	pageNotFound = page{
		Title:   "Link not recognised",
		Message: "This approval link is invalid or has been replaced. Ask your care provider to send a new one.",
	}
	pageError = page{
		Title:   "Something went wrong",
		Message: "We could not record your approval. Please try again in a few minutes.",
	}
)
