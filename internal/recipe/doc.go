// Package recipe defines the declarative build recipe format.
//
// A recipe is a YAML document naming a base image and an ordered list of
// steps. Each step carries exactly one operation: setting environment
// variables, running a shell command, copying files from the build context,
// setting the working directory, creating and switching to a user, exposing
// a port, or declaring the default command or entrypoint. The set field
// determines the step's kind; steps with zero or multiple operation fields
// are rejected at load time.
//
// Example recipe:
//
//	from: python-slim
//	steps:
//	  - env:
//	      PYTHONDONTWRITEBYTECODE: "1"
//	      PYTHONUNBUFFERED: "1"
//	  - workdir: /app
//	  - copy: requirements.txt .
//	  - run: pip install -r requirements.txt
//	    manifest: requirements.txt
//	  - copy: . .
//	  - user: appuser
//	  - expose: 8000
//	command: [python, app.py]
//
// The manifest field on a run step names a context file that both guards
// the step (the step is skipped when the file is absent) and keys its
// cached layer, so dependency installation is re-executed exactly when the
// dependency manifest changes.
package recipe
