package osc

// BashIntegration is an rc file that makes an interactive bash emit the
// control signals. The user's ~/.bashrc is sourced first so aliases and PATH
// survive. The DEBUG trap arms the exit signal only when a command actually
// ran, so an interrupt at an idle prompt produces a prompt signal but no exit.
const BashIntegration = `
if [ -f "$HOME/.bashrc" ]; then
  . "$HOME/.bashrc"
fi

__sb_emit() { builtin printf '\033]654;%s\007' "$1"; }

__sb_preexec() {
  [ -n "${COMP_LINE:-}" ] && return 0
  [ -n "${__sb_in_hook:-}" ] && return 0
  case "$BASH_COMMAND" in
    __sb_*) return 0 ;;
  esac
  __sb_ran=1
}

__sb_precmd() {
  local ec="$?"
  __sb_in_hook=1
  if [ -n "${__sb_ran:-}" ]; then
    __sb_emit "exit=${ec}:$$"
    unset __sb_ran
  fi
  __sb_emit "prompt"
  __sb_in_hook=
}

trap '__sb_preexec' DEBUG
PROMPT_COMMAND="__sb_precmd"
PS1='\w ❯ '
PS2='> '
unset __sb_ran
__sb_emit "interactive"
`
