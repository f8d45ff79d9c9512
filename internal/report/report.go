package report

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Entry is one archived record as shown in the report
type Entry struct {
	CID       string
	Type      string
	CreatedAt string
	Text      string
	Subject   string
	Media     []string
	Raw       string
}

// Document is everything rendered into the archive report
type Document struct {
	Posts   []Entry
	Likes   []Entry
	Reposts []Entry
	Others  []Entry

	// BlobDir is the media folder relative to the report file.
	BlobDir          string
	CursorSuggestion string
	StatsFile        string
	Candidates       map[string]int
}

// References reports whether any entry already shows the media file name
func (d Document) References(name string) bool {
	for _, group := range [][]Entry{d.Posts, d.Likes, d.Reposts, d.Others} {
		for _, e := range group {
			if slices.Contains(e.Media, name) {
				return true
			}
		}
	}
	return false
}

var imageExt = []string{".jpeg", ".jpg", ".png", ".gif", ".webp"}

var funcs = template.FuncMap{
	"isImage": func(name string) bool {
		return slices.Contains(imageExt, strings.ToLower(filepath.Ext(name)))
	},
	"blob": func(dir, name string) string {
		return dir + "/" + name
	},
}

var page = template.Must(template.New("archive").Funcs(funcs).Parse(`<html>
<head>
  <meta charset='utf-8'>
  <title>Bluesky Archive</title>
  <style>
    body { font-family: Arial, sans-serif; padding: 20px; }
    .post { border: 1px solid #ccc; padding: 10px; margin: 10px 0; }
    .tab { overflow: hidden; border-bottom: 1px solid #ccc; }
    .tab button { background-color: inherit; float: left; border: none; outline: none; cursor: pointer; padding: 10px 16px; font-size: 17px; }
    .tab button:hover { background-color: #ddd; }
    .tab button.active { background-color: #ccc; }
    .tabcontent { display: none; padding: 20px 0; }
    .cursor-suggestion { margin-top: 30px; padding: 10px; border: 1px solid #aaa; background-color: #f9f9f9; }
  </style>
</head>
<body>
  <h1>Archive Contents</h1>
  {{if .StatsFile}}<p><a href="{{.StatsFile}}">Statistics</a></p>{{end}}
  <div class='tab'>
    <button class='tablinks' onclick="openTab(event, 'Posts')" id='defaultOpen'>Posts ({{len .Posts}})</button>
    <button class='tablinks' onclick="openTab(event, 'Likes')">Likes ({{len .Likes}})</button>
    <button class='tablinks' onclick="openTab(event, 'Reposts')">Reposts ({{len .Reposts}})</button>
    <button class='tablinks' onclick="openTab(event, 'Others')">Others ({{len .Others}})</button>
  </div>
  {{$dir := .BlobDir}}
  <div id='Posts' class='tabcontent'>
    <h2>Posts</h2>
    {{range .Posts}}<div class='post'>
      <p><strong>Created at:</strong> {{or .CreatedAt "Unknown time"}}</p>
      <p>{{or .Text "No content"}}</p>
      {{range .Media}}{{if isImage .}}<img src='{{blob $dir .}}' alt='Blob {{.}}' style='max-width:100%;'/>{{else}}<a href='{{blob $dir .}}'>Download attachment</a>{{end}}{{end}}
    </div>{{end}}
  </div>
  <div id='Likes' class='tabcontent'>
    <h2>Likes</h2>
    {{range .Likes}}<div class='post'>
      <p><strong>Created at:</strong> {{or .CreatedAt "Unknown time"}}</p>
      <p>{{or .Subject "Like record"}}</p>
    </div>{{end}}
  </div>
  <div id='Reposts' class='tabcontent'>
    <h2>Reposts</h2>
    {{range .Reposts}}<div class='post'>
      <p><strong>Created at:</strong> {{or .CreatedAt "Unknown time"}}</p>
      <p>{{or .Subject "Repost record"}}</p>
    </div>{{end}}
  </div>
  <div id='Others' class='tabcontent'>
    <h2>Others</h2>
    {{range .Others}}<div class='post'>
      {{if .Media}}{{$cid := .CID}}{{range .Media}}{{if isImage .}}<p>Media Blob (CID: {{$cid}}):</p><img src='{{blob $dir .}}' alt='Blob {{$cid}}' style='max-width:100%;'/>{{else}}<p>Media Blob (CID: {{$cid}}): <a href='{{blob $dir .}}'>Download file</a></p>{{end}}{{end}}
      {{else}}<pre>{{.Raw}}</pre>{{end}}
    </div>{{end}}
  </div>
  {{if .CursorSuggestion}}<div class='cursor-suggestion'>
    <p><strong>Cursor Suggestion:</strong> For future runs, consider using the -c flag with this cursor:</p>
    <p style="font-family: monospace;">{{.CursorSuggestion}}</p>
  </div>{{end}}
  <script>
    function openTab(evt, tabName) {
      var i, tabcontent, tablinks;
      tabcontent = document.getElementsByClassName("tabcontent");
      for (i = 0; i < tabcontent.length; i++) {
        tabcontent[i].style.display = "none";
      }
      tablinks = document.getElementsByClassName("tablinks");
      for (i = 0; i < tablinks.length; i++) {
        tablinks[i].className = tablinks[i].className.replace(" active", "");
      }
      document.getElementById(tabName).style.display = "block";
      evt.currentTarget.className += " active";
    }
    document.getElementById("defaultOpen").click();
  </script>
</body>
</html>
`))

// WriteFile renders doc to path
func WriteFile(path string, doc Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	defer f.Close()
	if err := page.Execute(f, doc); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return f.Close()
}
