// Package manifest evaluates sl-pkg PACKAGE files.
//
// A PACKAGE file is a Starlark program. Top-level assignments declare the
// package (NAME, VERSION, ABSOLUTE_VERSION, URL, PATCHES, DEPENDS,
// METAPACKAGE) and top-level functions are the lifecycle hooks: prepare,
// build, do_install, postinst and detect.
//
// Evaluation is sandboxed. load() is disabled, execution is step limited
// and cancelled with the caller's context, and the only way to touch the
// system is run(*argv, dir="", env={}, check=True), which executes argv
// directly without a shell, in a directory confined to the package cache
// directory. run() is refused during top-level evaluation, so nothing
// executes until a hook is invoked.
//
//	NAME = "zlib"
//	VERSION = "1.3.1"
//	ABSOLUTE_VERSION = 1
//	URL = "https://zlib.net/zlib-1.3.1.tar.xz"
//
//	def build(pkg):
//	    run("./configure", "--prefix=/usr")
//	    run("make", "-j" + str(pkg.nproc))
//
//	def do_install():
//	    run("make", "install")
//
//	def detect():
//	    return exists("/usr/lib/libz.so")
package manifest
