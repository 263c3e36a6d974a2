package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArg(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"digits", "8080", SlotNumber},
		{"hash", "d41d8cd98f00b204e9800998ecf8427e", SlotHash},
		{"url ending in digest", "https://cdn.example.com/d41d8cd98f00b204e9800998ecf8427e", SlotHash},
		{"absolute path", "/var/log/syslog", SlotPath},
		{"email", "dev@example.com", SlotEmail},
		{"ssh target", "git@github.com:org/repo.git", SlotEmail},
		{"flag", "-la", "-la"},
		{"relative path", "./build", "./build"},
		{"dotted numeric", "8.8.8.8", "8.8.8.8"},
		{"version", "1.2.3", "1.2.3"},
		{"short hex", "deadbeef", "deadbeef"},
		{"number beats path", "42", SlotNumber},
		{"hash beats path", "/tmp/" + strings.Repeat("a", 32), SlotHash},
		{"path beats email", "/home/user@host", SlotPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Arg(tt.in))
		})
	}
}

func TestCommand(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "git status", Command("git", []string{"status"}))
	assert.Equal(t, "kill -9 <number>", Command("kill", []string{"-9", "1234"}))
	assert.Equal(t, "cat <path>", Command("cat", []string{"/etc/hosts"}))
	assert.Equal(t, "ls", Command("  ls  ", nil))
	assert.Equal(t, "ping 8.8.8.8", Command("ping", []string{"8.8.8.8"}))
	assert.Equal(t, `git commit -m "fix the bug"`, Command("git", []string{"commit", "-m", "fix the bug"}))
	assert.Equal(t, `echo ""`, Command("echo", []string{""}))
	assert.Equal(t, "", Command("", nil))
}

func TestLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"curl https://example.com/files/0123456789abcdef0123456789abcdef", "curl <hash>"},
		{"ssh deploy@prod.example.com", "ssh <email>"},
		{"docker logs -f --tail 100 web", "docker logs -f --tail <number> web"},
		{"vim /etc/nginx/nginx.conf", "vim <path>"},
		{"git commit -m 'initial import'", `git commit -m "initial import"`},
		{"  npm   test  ", "npm test"},
		{"", ""},
		{"echo 'unbalanced", `echo "'unbalanced"`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Line(tt.in), tt.in)
	}
}

func TestLine_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"git commit -m 'hello world'",
		"kubectl delete pod web-7d4b9 -n 42",
		`echo "quote \" inside" and\\backslash`,
		"grep -r '#include' /usr/include",
		"ls -la /tmp/dir",
		"mail someone@example.com",
		"tar xzf archive.tar.gz",
		"echo ''",
	}

	for _, in := range inputs {
		once := Line(in)
		assert.Equal(t, once, Line(once), "normalizing %q twice", in)
	}
}

func TestLine_Deterministic(t *testing.T) {
	t.Parallel()

	in := "scp /tmp/a.txt user@host:/srv 22"
	first := Line(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Line(in))
	}
}

func TestFirstToken(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "npm", FirstToken("npm install left-pad"))
	assert.Equal(t, "", FirstToken("   "))
	assert.Equal(t, "my tool", FirstToken(`"my tool" --help`))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	s, cut := Truncate("short", 10)
	assert.Equal(t, "short", s)
	assert.False(t, cut)

	s, cut = Truncate("abcdef", 3)
	assert.Equal(t, "abc", s)
	assert.True(t, cut)

	long := strings.Repeat("x", DefaultMaxCommandSize+5)
	s, cut = Truncate(long, 0)
	assert.Len(t, s, DefaultMaxCommandSize)
	assert.True(t, cut)
}

func BenchmarkLine(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Line("docker run --rm -p 8080:80 -v /srv/data:/data nginx:latest")
	}
}
